package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/cart"
	"github.com/safar/checkout-core/internal/models"
)

type loginRequest struct {
	CountryCode string           `json:"country_code"`
	Phone       string           `json:"phone"`
	Password    string           `json:"password"`
	GuestCart   []cart.GuestLine `json:"guest_cart,omitempty"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  *models.User   `json:"user"`
	Merge map[string]any `json:"merge,omitempty"`
}

// login verifies phone and password, mints a token and then folds the guest
// cart into the account. A failed merge is reported in the body; the login
// itself still succeeds.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Phone) == "" || req.Password == "" {
		writeError(w, r, apperr.Validation("phone and password are required"))
		return
	}

	countryCode := strings.TrimSpace(req.CountryCode)
	if countryCode == "" {
		countryCode = h.deps.DefaultCountryCode
	}

	user, err := h.deps.Login.Verify(r.Context(), req.Phone, countryCode, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.deps.Tokens.Issue(user)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := loginResponse{Token: token, User: user}

	if h.deps.Merger != nil {
		result, err := h.mergeGuestCart(r, user.ID, req.GuestCart)
		switch {
		case err != nil:
			loggerFor(r, h.logger).Warn("guest cart merge after login failed",
				zap.Int64("user_id", user.ID), zap.Error(err))
			resp.Merge = map[string]any{
				"success": false,
				"error":   string(apperr.KindOf(err)),
				"message": errorMessage(err),
			}
		case result.MergedCount > 0 || result.FailedCount > 0:
			resp.Merge = mergePayload(result)
		}
	}

	writeData(w, http.StatusOK, resp)
}

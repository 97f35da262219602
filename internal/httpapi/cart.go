package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/cart"
	"github.com/safar/checkout-core/internal/models"
)

// sessionHeader carries the anonymous cart token. The server issues one on
// the first anonymous add.
const sessionHeader = "Session-ID"

type addCartItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type mergeCartRequest struct {
	Items []cart.GuestLine `json:"items"`
}

// sessionID returns the validated Session-ID header, or "" when absent.
func sessionID(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get(sessionHeader))
	if raw == "" {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", apperr.Validation("invalid %s header", sessionHeader)
	}
	return id.String(), nil
}

func (h *handlers) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	owner, err := h.cartOwner(w, r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.deps.Cart.AddItem(r.Context(), *owner, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, item)
}

func (h *handlers) getCart(w http.ResponseWriter, r *http.Request) {
	owner, err := h.cartOwner(w, r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if owner == nil {
		writeData(w, http.StatusOK, []models.CartItem{})
		return
	}

	items, err := h.deps.Cart.List(r.Context(), *owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, items)
}

// cartOwner resolves the authenticated user first, then the session header.
// With issue set, an anonymous caller without a session gets a fresh one,
// echoed back in the response header.
func (h *handlers) cartOwner(w http.ResponseWriter, r *http.Request, issue bool) (*cart.Owner, error) {
	if userID, ok := callerFrom(r).UserID(); ok {
		owner := cart.UserOwner(userID)
		return &owner, nil
	}

	session, err := sessionID(r)
	if err != nil {
		return nil, err
	}
	if session == "" {
		if !issue {
			return nil, nil
		}
		session = uuid.NewString()
	}
	w.Header().Set(sessionHeader, session)

	owner := cart.SessionOwner(session)
	return &owner, nil
}

func (h *handlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req mergeCartRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	result, err := h.mergeGuestCart(r, userID, req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, mergePayload(result))
}

// mergeGuestCart merges the supplied lines, or the anonymous session cart
// when none are supplied, and rewrites the session cart to the remainder.
func (h *handlers) mergeGuestCart(r *http.Request, userID int64, lines []cart.GuestLine) (cart.MergeResult, error) {
	ctx := r.Context()
	logger := loggerFor(r, h.logger)

	session, err := sessionID(r)
	if err != nil {
		return cart.MergeResult{}, err
	}

	fromSession := len(lines) == 0 && session != ""
	if fromSession {
		lines, err = h.deps.Cart.SessionSnapshot(ctx, session)
		if err != nil {
			return cart.MergeResult{}, err
		}
	}

	result, err := h.deps.Merger.MergeGuestCart(ctx, userID, lines)
	if err != nil {
		return result, err
	}

	if fromSession {
		if err := h.deps.Cart.Retain(ctx, session, result.Remaining); err != nil {
			logger.Warn("rewrite session cart after merge", zap.Error(err))
		}
	}

	return result, nil
}

func mergePayload(result cart.MergeResult) map[string]any {
	payload := map[string]any{
		"success":     result.Success,
		"partial":     result.Partial,
		"mergedCount": result.MergedCount,
		"failedCount": result.FailedCount,
		"remaining":   result.Remaining,
	}
	if len(result.Failures) > 0 {
		payload["failures"] = result.Failures
	}
	if result.Err != nil {
		payload["error"] = string(apperr.KindOf(result.Err))
		payload["message"] = errorMessage(result.Err)
	}
	return payload
}

func errorMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

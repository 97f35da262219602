package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/logging"
)

const maxBodySize = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

// writeError renders err as {success:false, error:<kind>, message}. Internal
// failures are logged and their message withheld.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	payload := map[string]any{
		"success": false,
		"error":   string(kind),
	}

	var appErr *apperr.Error
	switch {
	case status >= http.StatusInternalServerError:
		loggerFor(r, nil).Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
		payload["message"] = "internal error"
		if kind == apperr.KindOrderPlacementFailed {
			payload["message"] = "order could not be placed, please retry"
		}
	case errors.As(err, &appErr):
		payload["message"] = appErr.Message
		if appErr.ProductID != 0 {
			payload["product_id"] = appErr.ProductID
		}
		if kind == apperr.KindInsufficientStock {
			payload["stock"] = appErr.Stock
		}
	default:
		payload["message"] = err.Error()
	}

	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		payload["request_id"] = requestID
	}

	writeJSON(w, status, payload)
}

// decodeJSON reads a size-limited JSON body into dst. Any failure is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		case errors.As(err, &tooLarge):
			return apperr.Validation("request body exceeds %d bytes", maxBodySize)
		default:
			return apperr.Validation("invalid request body: %s", err.Error())
		}
	}
	return nil
}

func loggerFor(r *http.Request, fallback *zap.Logger) *zap.Logger {
	return logging.FromContext(r.Context(), fallback)
}

func requireUser(r *http.Request) (int64, error) {
	userID, ok := callerFrom(r).UserID()
	if !ok {
		return 0, apperr.Unauthorized("authentication required")
	}
	return userID, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid id %q", raw)
	}
	return id, nil
}

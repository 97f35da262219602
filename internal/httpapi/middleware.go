package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/auth"
	"github.com/safar/checkout-core/internal/logging"
)

// requestLogger attaches a request-scoped logger to the context and logs
// completion with status and latency.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			r = r.WithContext(logging.WithLogger(r.Context(), logger))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					fields = append(fields, zap.String("route", rctx.RoutePattern()))
				}
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// resolveCaller turns an optional bearer token into an auth.Caller. A missing
// header means anonymous; a present but invalid token is rejected, as is a
// token whose account was deleted or deactivated after it was issued.
func resolveCaller(tokens TokenAuthority, accounts AccountChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := auth.Anonymous()

			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header != "" {
				scheme, token, ok := strings.Cut(header, " ")
				if !ok || !strings.EqualFold(scheme, "Bearer") || tokens == nil || accounts == nil {
					writeError(w, r, apperr.Unauthorized("malformed authorization header"))
					return
				}
				claims, err := tokens.Parse(strings.TrimSpace(token))
				if err != nil {
					writeError(w, r, apperr.Unauthorized("invalid or expired token"))
					return
				}
				if _, err := accounts.Active(r.Context(), claims.UserID); err != nil {
					writeError(w, r, err)
					return
				}
				caller = auth.Authenticated(claims.UserID)
			}

			next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
		})
	}
}

func callerFrom(r *http.Request) auth.Caller {
	return auth.CallerFromContext(r.Context())
}

// Package httpapi exposes the checkout core over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/auth"
	"github.com/safar/checkout-core/internal/cart"
	"github.com/safar/checkout-core/internal/metrics"
	"github.com/safar/checkout-core/internal/models"
	"github.com/safar/checkout-core/internal/ordering"
	"github.com/safar/checkout-core/internal/store"
)

const defaultRequestTimeout = 30 * time.Second

type OrderService interface {
	PlaceOrder(ctx context.Context, caller auth.Caller, req ordering.PlaceOrderRequest) (*ordering.Placement, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.OrderPage, error)
}

type CartService interface {
	AddItem(ctx context.Context, owner cart.Owner, productID int64, quantity int) (*models.CartItem, error)
	List(ctx context.Context, owner cart.Owner) ([]models.CartItem, error)
	SessionSnapshot(ctx context.Context, sessionID string) ([]cart.GuestLine, error)
	Retain(ctx context.Context, sessionID string, lines []cart.GuestLine) error
}

type CartMerger interface {
	MergeGuestCart(ctx context.Context, userID int64, snapshot []cart.GuestLine) (cart.MergeResult, error)
}

type LoginVerifier interface {
	Verify(ctx context.Context, rawPhone, countryCode, password string) (*models.User, error)
}

type TokenAuthority interface {
	Issue(user *models.User) (string, error)
	Parse(token string) (*auth.Claims, error)
}

// AccountChecker confirms that a token's account still exists and is active.
type AccountChecker interface {
	Active(ctx context.Context, userID int64) (*models.User, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Orders   OrderService
	Cart     CartService
	Merger   CartMerger
	Login    LoginVerifier
	Tokens   TokenAuthority
	Accounts AccountChecker
	DB       Pinger
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// DefaultCountryCode applies to login requests that omit one.
	DefaultCountryCode string
	RequestTimeout     time.Duration
}

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter builds the chi router with shared middleware and every route.
func NewRouter(deps Deps) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	h := &handlers{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, apperr.NotFound(fmt.Sprintf("no route for %s", req.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"success": false,
			"error":   "method_not_allowed",
			"message": fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path),
		})
	})

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(resolveCaller(deps.Tokens, deps.Accounts))

		api.Post("/auth/login", h.login)

		api.Route("/orders", func(orders chi.Router) {
			orders.Post("/", h.placeOrder)
			orders.Get("/", h.listOrders)
			orders.Get("/{orderID}", h.getOrder)
		})

		api.Route("/cart", func(c chi.Router) {
			c.Get("/", h.getCart)
			c.Post("/items", h.addCartItem)
			c.Post("/merge", h.mergeCart)
		})
	})

	return r
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.DB.PingContext(ctx); err != nil {
			loggerFor(r, h.logger).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

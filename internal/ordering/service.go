// Package ordering places orders: validation, optional guest provisioning,
// inventory charging and persistence in a single transaction.
package ordering

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/auth"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/identity"
	"github.com/safar/checkout-core/internal/inventory"
	"github.com/safar/checkout-core/internal/metrics"
	"github.com/safar/checkout-core/internal/models"
	"github.com/safar/checkout-core/internal/store"
)

var (
	errDBRequired          = errors.New("ordering: database is required")
	errProvisionerRequired = errors.New("ordering: provisioner is required")
	errLedgerRequired      = errors.New("ordering: ledger is required")
	errTokensRequired      = errors.New("ordering: token issuer is required")
)

const (
	defaultTxTimeout  = 5 * time.Second
	orderNumberPrefix = "ORD"
	maxListLimit      = 100
	defaultListLimit  = 20
)

type guestProvisioner interface {
	ProvisionOrFind(ctx context.Context, q database.Querier, req identity.ProvisionRequest) (*models.User, error)
}

type stockLedger interface {
	ReserveAndCharge(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (inventory.Charge, error)
}

type tokenIssuer interface {
	Issue(user *models.User) (string, error)
}

type Deps struct {
	DB          *sql.DB
	Provisioner guestProvisioner
	Ledger      stockLedger
	Tokens      tokenIssuer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// TxTimeout bounds the transaction including retries.
	TxTimeout          time.Duration
	MaxRetries         int
	DefaultCountryCode string
	OrderNumbers       func() string
}

type Service struct {
	db           *sql.DB
	provisioner  guestProvisioner
	ledger       stockLedger
	tokens       tokenIssuer
	metrics      *metrics.Metrics
	logger       *zap.Logger
	txTimeout    time.Duration
	maxRetries   int
	countryCode  string
	orderNumbers func() string
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.DB == nil:
		return nil, errDBRequired
	case deps.Provisioner == nil:
		return nil, errProvisionerRequired
	case deps.Ledger == nil:
		return nil, errLedgerRequired
	case deps.Tokens == nil:
		return nil, errTokensRequired
	}

	s := &Service{
		db:           deps.DB,
		provisioner:  deps.Provisioner,
		ledger:       deps.Ledger,
		tokens:       deps.Tokens,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		txTimeout:    deps.TxTimeout,
		maxRetries:   deps.MaxRetries,
		countryCode:  deps.DefaultCountryCode,
		orderNumbers: deps.OrderNumbers,
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.txTimeout <= 0 {
		s.txTimeout = defaultTxTimeout
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	if s.orderNumbers == nil {
		s.orderNumbers = NewOrderNumber
	}
	return s, nil
}

// NewOrderNumber is "ORD" followed by a ULID: a millisecond timestamp and 80
// random bits, lexically sortable by creation time.
func NewOrderNumber() string {
	return orderNumberPrefix + ulid.Make().String()
}

// PlaceOrder runs the whole checkout. Steps after validation share one
// transaction; any failure rolls all of them back.
func (s *Service) PlaceOrder(ctx context.Context, caller auth.Caller, req PlaceOrderRequest) (*Placement, error) {
	started := time.Now()
	callerLabel := "authenticated"
	if caller.IsAnonymous() {
		callerLabel = "guest"
	}

	placement, err := s.placeOrder(ctx, caller, req)
	s.metrics.OrderDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		kind := apperr.KindOf(err)
		s.metrics.OrderFailures.WithLabelValues(string(kind)).Inc()
		fields := []zap.Field{zap.String("kind", string(kind)), zap.String("caller", callerLabel), zap.Error(err)}
		if kind == apperr.KindOrderPlacementFailed {
			s.logger.Error("order placement failed", fields...)
		} else {
			s.logger.Info("order rejected", fields...)
		}
		return nil, err
	}

	s.metrics.OrdersPlaced.WithLabelValues(string(placement.Order.PaymentMethod), callerLabel).Inc()
	if placement.AutoRegistered {
		s.metrics.GuestsProvisioned.Inc()
	}
	s.logger.Info("order placed",
		zap.String("order_number", placement.Order.OrderNumber),
		zap.Int64("user_id", placement.Order.UserID),
		zap.String("total_amount", placement.Order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(placement.Items)),
		zap.String("caller", callerLabel),
		zap.Duration("elapsed", time.Since(started)))

	return placement, nil
}

func (s *Service) placeOrder(ctx context.Context, caller auth.Caller, req PlaceOrderRequest) (*Placement, error) {
	req.normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	countryCode := req.CountryCode
	if countryCode == "" {
		countryCode = s.countryCode
	}
	if caller.IsAnonymous() {
		if _, err := identity.NormalizePhone(req.ContactPhone, countryCode); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var placement *Placement
	opts := database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     s.maxRetries,
		OnRetry: func(attempt int, err error) {
			s.logger.Warn("retrying order transaction", zap.Int("attempt", attempt), zap.Error(err))
		},
	}

	err := database.WithRetry(ctx, s.db, opts, func(tx *sql.Tx) error {
		p, err := s.placeInTx(ctx, tx, caller, countryCode, req)
		if err != nil {
			return err
		}
		placement = p
		return nil
	})
	if err != nil {
		return nil, classifyPlacementError(err)
	}

	if placement.AutoRegistered {
		token, err := s.tokens.Issue(placement.User)
		if err != nil {
			// The order is committed; the guest can still log in with the
			// provisioned credentials.
			s.logger.Error("mint token for provisioned guest",
				zap.Int64("user_id", placement.User.ID), zap.Error(err))
		} else {
			placement.Token = token
		}
	}

	return placement, nil
}

// placeInTx holds no state outside its own frame so WithRetry can rerun it.
func (s *Service) placeInTx(ctx context.Context, tx *sql.Tx, caller auth.Caller, countryCode string, req PlaceOrderRequest) (*Placement, error) {
	placement := &Placement{}

	userID, authenticated := caller.UserID()
	if !authenticated {
		user, err := s.provisioner.ProvisionOrFind(ctx, tx, identity.ProvisionRequest{
			Phone:        req.ContactPhone,
			CountryCode:  countryCode,
			DisplayName:  req.ContactName,
			ReferralCode: req.ReferralCode,
		})
		if err != nil {
			return nil, err
		}
		userID = user.ID
		placement.User = user
		placement.AutoRegistered = true
	}

	charges := make([]inventory.Charge, 0, len(req.Items))
	total := decimal.Zero
	for i, item := range req.Items {
		charge, err := s.ledger.ReserveAndCharge(ctx, tx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		charges = append(charges, charge)
		total = total.Add(charge.Subtotal())
	}

	order, err := store.InsertOrder(ctx, tx, store.InsertOrderParams{
		OrderNumber:     s.orderNumbers(),
		UserID:          userID,
		TotalAmount:     total.Round(2),
		PaymentMethod:   req.PaymentMethod,
		Status:          models.OrderStatusCompleted,
		ContactName:     req.ContactName,
		ContactPhone:    req.ContactPhone,
		DeliveryAddress: req.DeliveryAddress,
		Province:        req.Province,
		City:            req.City,
		District:        req.District,
		PostalCode:      req.PostalCode,
		Notes:           req.Notes,
	})
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(charges))
	for _, charge := range charges {
		item, err := store.InsertOrderItem(ctx, tx, store.InsertOrderItemParams{
			OrderID:         order.ID,
			ProductID:       charge.ProductID,
			ProductName:     charge.ProductName,
			Quantity:        charge.Quantity,
			UnitPrice:       charge.UnitPrice,
			OriginalPrice:   charge.OriginalPrice,
			DiscountPercent: charge.DiscountPercent,
			Subtotal:        charge.Subtotal(),
		})
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	if req.ClearCart {
		if _, err := store.ClearUserCart(ctx, tx, userID); err != nil {
			return nil, err
		}
	}

	if placement.AutoRegistered {
		_, err := store.CreateAddress(ctx, tx, store.CreateAddressParams{
			UserID:        userID,
			ContactName:   req.ContactName,
			ContactPhone:  req.ContactPhone,
			Province:      req.Province,
			City:          req.City,
			District:      req.District,
			DetailAddress: req.DeliveryAddress,
			PostalCode:    req.PostalCode,
			IsDefault:     true,
		})
		if err != nil {
			return nil, err
		}
	}

	order.Items = items
	placement.Order = order
	placement.Items = items
	return placement, nil
}

// classifyPlacementError keeps recognised kinds and folds everything else,
// including timeouts, into OrderPlacementFailed.
func classifyPlacementError(err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return apperr.OrderPlacementFailed(err)
}

// GetOrder returns the order only when it belongs to userID.
func (s *Service) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.NotFound("order not found")
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.OrderPage, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if err := store.ValidateCursor(cursor); err != nil {
		return nil, apperr.Validation("invalid cursor")
	}
	return store.ListOrdersCursor(ctx, s.db, userID, cursor, limit)
}

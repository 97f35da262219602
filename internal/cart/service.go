// Package cart manages server-side carts and folds a pre-login guest cart
// into the account cart after login.
package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/inventory"
	"github.com/safar/checkout-core/internal/models"
	"github.com/safar/checkout-core/internal/store"
)

// Owner scopes a cart to either a user or an anonymous session.
type Owner struct {
	userID    int64
	sessionID string
}

func UserOwner(userID int64) Owner {
	return Owner{userID: userID}
}

func SessionOwner(sessionID string) Owner {
	return Owner{sessionID: sessionID}
}

func (o Owner) IsUser() bool {
	return o.userID != 0
}

func (o Owner) String() string {
	if o.IsUser() {
		return fmt.Sprintf("user:%d", o.userID)
	}
	return "session:" + o.sessionID
}

type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewService(db *sql.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// AddItem inserts the product or increments an existing row. The resulting
// quantity must fit in current stock; the stored price is refreshed to the
// current charged price.
func (s *Service) AddItem(ctx context.Context, owner Owner, productID int64, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}
	if !owner.IsUser() && owner.sessionID == "" {
		return nil, apperr.Validation("cart owner is required")
	}

	product, err := store.GetProduct(ctx, s.db, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			return nil, apperr.ProductNotFound(productID)
		}
		return nil, err
	}

	params := store.AddCartItemParams{
		ProductID:   product.ID,
		Quantity:    quantity,
		Price:       inventory.ChargedPrice(product.Price, product.Discount),
		MaxQuantity: product.StockQuantity,
	}

	var item *models.CartItem
	if owner.IsUser() {
		item, err = store.AddUserCartItem(ctx, s.db, owner.userID, params)
	} else {
		item, err = store.AddSessionCartItem(ctx, s.db, owner.sessionID, params)
	}
	if err != nil {
		if errors.Is(err, database.ErrInsufficientStock) {
			return nil, apperr.InsufficientStock(product.ID, product.Name, product.StockQuantity)
		}
		return nil, err
	}

	s.logger.Debug("cart item added",
		zap.Stringer("owner", owner),
		zap.Int64("product_id", product.ID),
		zap.Int("quantity", item.Quantity))

	return item, nil
}

func (s *Service) List(ctx context.Context, owner Owner) ([]models.CartItem, error) {
	if owner.IsUser() {
		return store.ListUserCartItems(ctx, s.db, owner.userID)
	}
	return store.ListSessionCartItems(ctx, s.db, owner.sessionID)
}

func (s *Service) Clear(ctx context.Context, owner Owner) error {
	if owner.IsUser() {
		_, err := store.ClearUserCart(ctx, s.db, owner.userID)
		return err
	}
	return store.RetainSessionCartItems(ctx, s.db, owner.sessionID, nil)
}

// Retain drops every line of an anonymous session cart except the listed
// products. Used to rewrite a session cart to a merge remainder.
func (s *Service) Retain(ctx context.Context, sessionID string, lines []GuestLine) error {
	keep := make([]int64, 0, len(lines))
	for _, line := range lines {
		keep = append(keep, line.ProductID)
	}
	return store.RetainSessionCartItems(ctx, s.db, sessionID, keep)
}

// SessionSnapshot reads an anonymous session cart as merge input.
func (s *Service) SessionSnapshot(ctx context.Context, sessionID string) ([]GuestLine, error) {
	items, err := store.ListSessionCartItems(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	lines := make([]GuestLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, GuestLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines, nil
}

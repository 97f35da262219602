// Package inventory validates requested quantities against stock and applies
// decrements inside an order transaction.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Charge is the price snapshot frozen onto an order line.
type Charge struct {
	ProductID       int64
	ProductName     string
	Quantity        int
	UnitPrice       decimal.Decimal
	OriginalPrice   decimal.Decimal
	DiscountPercent decimal.NullDecimal
}

// Subtotal is UnitPrice × Quantity.
func (c Charge) Subtotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity))).Round(2)
}

type Ledger struct {
	logger *zap.Logger
}

func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{logger: logger}
}

// ReserveAndCharge locks the product, checks stock, prices the line and
// decrements stock, all within tx. A failure leaves tx unusable for commit;
// the caller must roll back.
func (l *Ledger) ReserveAndCharge(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (Charge, error) {
	if quantity <= 0 {
		return Charge{}, apperr.Validation("quantity for product %d must be positive", productID)
	}

	product, err := store.ReserveStock(ctx, tx, productID, quantity)
	switch {
	case errors.Is(err, database.ErrProductNotFound):
		return Charge{}, apperr.ProductNotFound(productID)
	case errors.Is(err, database.ErrInsufficientStock):
		return Charge{}, apperr.InsufficientStock(productID, product.Name, product.StockQuantity)
	case err != nil:
		return Charge{}, fmt.Errorf("reserve product %d: %w", productID, err)
	}

	charge := Charge{
		ProductID:       product.ID,
		ProductName:     product.Name,
		Quantity:        quantity,
		UnitPrice:       ChargedPrice(product.Price, product.Discount),
		OriginalPrice:   product.Price,
		DiscountPercent: product.Discount,
	}

	if err := store.DecrementStock(ctx, tx, productID, quantity); err != nil {
		if errors.Is(err, database.ErrInsufficientStock) {
			l.logger.Warn("conditional stock decrement matched no rows",
				zap.Int64("product_id", productID),
				zap.Int("quantity", quantity),
				zap.Int("observed_stock", product.StockQuantity))
			return Charge{}, apperr.InsufficientStock(productID, product.Name, product.StockQuantity)
		}
		return Charge{}, fmt.Errorf("decrement product %d: %w", productID, err)
	}

	return charge, nil
}

// ChargedPrice applies a positive discount percentage and rounds to cents;
// a null or zero discount leaves the listed price.
func ChargedPrice(price decimal.Decimal, discount decimal.NullDecimal) decimal.Decimal {
	if !discount.Valid || !discount.Decimal.IsPositive() {
		return price
	}
	factor := hundred.Sub(discount.Decimal).Div(hundred)
	return price.Mul(factor).Round(2)
}

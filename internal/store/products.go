package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, description, price, discount, stock_quantity, created_at, updated_at, version`

type CreateProductParams struct {
	SKU         string
	Name        string
	Description string
	Price       decimal.Decimal
	Discount    decimal.NullDecimal
	Stock       int
}

// CreateProduct exists for seeding and tests; catalog management lives elsewhere.
func CreateProduct(ctx context.Context, q database.Querier, p CreateProductParams) (*models.Product, error) {
	query := `
		INSERT INTO products (sku, name, description, price, discount, stock_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query,
		p.SKU, p.Name, p.Description, p.Price, p.Discount, p.Stock))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ReserveStock locks the product row for the rest of tx and checks that
// quantity units are available. On ErrInsufficientStock the locked product is
// still returned so callers can report the current stock.
func ReserveStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
			return nil, fmt.Errorf("%w: %w", database.ErrLockTimeout, err)
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if product.StockQuantity < quantity {
		return product, database.ErrInsufficientStock
	}

	return product, nil
}

// DecrementStock is the only write path for stock. The WHERE guard makes it
// safe even without a prior lock: zero affected rows means the stock was gone.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		if database.IsCheckViolation(err) {
			return database.ErrInsufficientStock
		}
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

// UpdateProductPricing uses the version column for optimistic locking.
func UpdateProductPricing(ctx context.Context, q database.Querier, productID int64, price decimal.Decimal, discount decimal.NullDecimal, version int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET price = $1, discount = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $3 AND version = $4`,
		price, discount, productID, version)
	if err != nil {
		return fmt.Errorf("update product pricing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

func DeleteProduct(ctx context.Context, q database.Querier, productID int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func scanProduct(row *sql.Row) (*models.Product, error) {
	product := &models.Product{}

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Discount,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	return product, nil
}

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

const cartItemColumns = `id, user_id, session_id, product_id, quantity, price, created_at, updated_at`

type AddCartItemParams struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
	// MaxQuantity caps the row's resulting quantity, normally the product stock.
	MaxQuantity int
}

// AddUserCartItem inserts or increments the (user, product) row. When the
// combined quantity would exceed MaxQuantity nothing is written and
// database.ErrInsufficientStock is returned.
func AddUserCartItem(ctx context.Context, q database.Querier, userID int64, p AddCartItemParams) (*models.CartItem, error) {
	query := `
		INSERT INTO cart_items (user_id, session_id, product_id, quantity, price, created_at, updated_at)
		SELECT $1::bigint, NULL::varchar, $2::bigint, $3::int, $4::numeric, NOW(), NOW()
		WHERE $3::int <= $5::int
		ON CONFLICT (user_id, product_id) WHERE user_id IS NOT NULL
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
		              price = EXCLUDED.price,
		              updated_at = NOW()
		WHERE cart_items.quantity + EXCLUDED.quantity <= $5::int
		RETURNING ` + cartItemColumns

	return upsertCartItem(ctx, q, query, userID, p)
}

func AddSessionCartItem(ctx context.Context, q database.Querier, sessionID string, p AddCartItemParams) (*models.CartItem, error) {
	query := `
		INSERT INTO cart_items (user_id, session_id, product_id, quantity, price, created_at, updated_at)
		SELECT NULL::bigint, $1::varchar, $2::bigint, $3::int, $4::numeric, NOW(), NOW()
		WHERE $3::int <= $5::int
		ON CONFLICT (session_id, product_id) WHERE user_id IS NULL
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
		              price = EXCLUDED.price,
		              updated_at = NOW()
		WHERE cart_items.quantity + EXCLUDED.quantity <= $5::int
		RETURNING ` + cartItemColumns

	return upsertCartItem(ctx, q, query, sessionID, p)
}

func upsertCartItem(ctx context.Context, q database.Querier, query string, owner any, p AddCartItemParams) (*models.CartItem, error) {
	item, err := scanCartItem(q.QueryRowContext(ctx, query, owner, p.ProductID, p.Quantity, p.Price, p.MaxQuantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrInsufficientStock
		}
		return nil, fmt.Errorf("add cart item: %w", err)
	}
	return item, nil
}

func ListUserCartItems(ctx context.Context, q database.Querier, userID int64) ([]models.CartItem, error) {
	return listCartItems(ctx, q, `WHERE user_id = $1`, userID)
}

func ListSessionCartItems(ctx context.Context, q database.Querier, sessionID string) ([]models.CartItem, error) {
	return listCartItems(ctx, q, `WHERE session_id = $1 AND user_id IS NULL`, sessionID)
}

func listCartItems(ctx context.Context, q database.Querier, where string, owner any) ([]models.CartItem, error) {
	query := `SELECT ` + cartItemColumns + ` FROM cart_items ` + where + ` ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ClearUserCart(ctx context.Context, q database.Querier, userID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return deleted, nil
}

// RetainSessionCartItems deletes every anonymous row of the session whose
// product is not in keep.
func RetainSessionCartItems(ctx context.Context, q database.Querier, sessionID string, keep []int64) error {
	if keep == nil {
		keep = []int64{}
	}

	_, err := q.ExecContext(ctx,
		`DELETE FROM cart_items
		 WHERE session_id = $1
		   AND user_id IS NULL
		   AND NOT (product_id = ANY($2))`,
		sessionID, pq.Array(keep))
	if err != nil {
		return fmt.Errorf("retain session cart items: %w", err)
	}

	return nil
}

func scanCartItem(row rowScanner) (*models.CartItem, error) {
	item := &models.CartItem{}
	var userID sql.NullInt64
	var sessionID sql.NullString

	err := row.Scan(
		&item.ID,
		&userID,
		&sessionID,
		&item.ProductID,
		&item.Quantity,
		&item.Price,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		item.UserID = &userID.Int64
	}
	item.SessionID = nullableString(sessionID)

	return item, nil
}

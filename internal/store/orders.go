package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, order_number, status, payment_method, total_amount,
	contact_name, contact_phone, delivery_address, province, city, district, postal_code,
	notes, created_at, updated_at, version`

const orderItemColumns = `id, order_id, product_id, product_name, quantity, unit_price,
	original_price, discount, subtotal, created_at`

type InsertOrderParams struct {
	OrderNumber     string
	UserID          int64
	TotalAmount     decimal.Decimal
	PaymentMethod   models.PaymentMethod
	Status          string
	ContactName     string
	ContactPhone    string
	DeliveryAddress string
	Province        *string
	City            *string
	District        *string
	PostalCode      *string
	Notes           string
}

func InsertOrder(ctx context.Context, tx *sql.Tx, p InsertOrderParams) (*models.Order, error) {
	query := `
		INSERT INTO orders (order_number, user_id, total_amount, payment_method, status,
		                    contact_name, contact_phone, delivery_address, province, city, district,
		                    postal_code, notes, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW(), 1)
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRowContext(ctx, query,
		p.OrderNumber, p.UserID, p.TotalAmount, string(p.PaymentMethod), p.Status,
		p.ContactName, p.ContactPhone, p.DeliveryAddress, p.Province, p.City, p.District,
		p.PostalCode, p.Notes))
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

type InsertOrderItemParams struct {
	OrderID         int64
	ProductID       int64
	ProductName     string
	Quantity        int
	UnitPrice       decimal.Decimal
	OriginalPrice   decimal.Decimal
	DiscountPercent decimal.NullDecimal
	Subtotal        decimal.Decimal
}

func InsertOrderItem(ctx context.Context, tx *sql.Tx, p InsertOrderItemParams) (*models.OrderItem, error) {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price,
		                         original_price, discount, subtotal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING ` + orderItemColumns

	item := &models.OrderItem{}
	err := tx.QueryRowContext(ctx, query,
		p.OrderID, p.ProductID, p.ProductName, p.Quantity, p.UnitPrice,
		p.OriginalPrice, p.DiscountPercent, p.Subtotal).Scan(orderItemDest(item)...)
	if err != nil {
		return nil, fmt.Errorf("create order item: %w", err)
	}

	return item, nil
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := ListOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func ListOrderItems(ctx context.Context, q database.Querier, orderID int64) ([]models.OrderItem, error) {
	query := `SELECT ` + orderItemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(orderItemDest(&item)...); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CountOrdersForUser lets callers check that a failed placement
// left nothing behind.
func CountOrdersForUser(ctx context.Context, q database.Querier, userID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// ListOrdersCursor pages a user's orders by (created_at, id) so inserts
// between requests never shift or repeat rows.
func ListOrdersCursor(ctx context.Context, q database.Querier, userID int64, cursor string, limit int) (*OrderPage, error) {
	cursorData, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		nextCursor = encodeCursor(orders[len(orders)-1])
	}

	return &OrderPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var paymentMethod string
	var province, city, district, postalCode sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&paymentMethod,
		&order.TotalAmount,
		&order.ContactName,
		&order.ContactPhone,
		&order.DeliveryAddress,
		&province,
		&city,
		&district,
		&postalCode,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.PaymentMethod = models.PaymentMethod(paymentMethod)
	order.Province = nullableString(province)
	order.City = nullableString(city)
	order.District = nullableString(district)
	order.PostalCode = nullableString(postalCode)

	return order, nil
}

func orderItemDest(item *models.OrderItem) []any {
	return []any{
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.ProductName,
		&item.Quantity,
		&item.UnitPrice,
		&item.OriginalPrice,
		&item.DiscountPercent,
		&item.Subtotal,
		&item.CreatedAt,
	}
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

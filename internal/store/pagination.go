package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/safar/checkout-core/internal/models"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// OrderPage is one keyset page of a user's order history, newest first.
type OrderPage struct {
	Items      []models.Order `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// orderCursor is the (created_at, id) of the last order already returned.
type orderCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

func encodeCursor(order models.Order) string {
	data, _ := json.Marshal(orderCursor{CreatedAt: order.CreatedAt, ID: order.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

// ValidateCursor reports whether an opaque cursor from a client can be decoded.
func ValidateCursor(encoded string) error {
	_, err := decodeCursor(encoded)
	return err
}

// decodeCursor treats "" as "start from the newest order".
func decodeCursor(encoded string) (orderCursor, error) {
	if encoded == "" {
		return orderCursor{CreatedAt: time.Now().Add(time.Minute), ID: math.MaxInt64}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return orderCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var cursor orderCursor
	if err := json.Unmarshal(data, &cursor); err != nil || cursor.ID <= 0 {
		return orderCursor{}, ErrInvalidCursor
	}
	return cursor, nil
}

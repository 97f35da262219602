package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Nickname       string    `json:"nickname"`
	CountryCode    string    `json:"country_code"`
	Phone          string    `json:"phone"`
	PasswordHash   string    `json:"-"`
	ReferralCode   string    `json:"referral_code"`
	ReferredByCode *string   `json:"referred_by_code,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int       `json:"version"`
}

type Product struct {
	ID            int64               `json:"id"`
	SKU           string              `json:"sku"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Price         decimal.Decimal     `json:"price"`
	Discount      decimal.NullDecimal `json:"discount"`
	StockQuantity int                 `json:"stock_quantity"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Version       int                 `json:"version"`
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	Status          string          `json:"status"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ContactName     string          `json:"contact_name"`
	ContactPhone    string          `json:"contact_phone"`
	DeliveryAddress string          `json:"delivery_address"`
	Province        *string         `json:"province,omitempty"`
	City            *string         `json:"city,omitempty"`
	District        *string         `json:"district,omitempty"`
	PostalCode      *string         `json:"postal_code,omitempty"`
	Notes           string          `json:"notes"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem is frozen at order time: prices and the product name are copies,
// not references.
type OrderItem struct {
	ID              int64               `json:"id"`
	OrderID         int64               `json:"order_id"`
	ProductID       int64               `json:"product_id"`
	ProductName     string              `json:"product_name"`
	Quantity        int                 `json:"quantity"`
	UnitPrice       decimal.Decimal     `json:"unit_price"`
	OriginalPrice   decimal.Decimal     `json:"original_price"`
	DiscountPercent decimal.NullDecimal `json:"discount"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	CreatedAt       time.Time           `json:"created_at"`
}

// CartItem belongs to exactly one of UserID or SessionID.
type CartItem struct {
	ID        int64           `json:"id"`
	UserID    *int64          `json:"user_id,omitempty"`
	SessionID *string         `json:"session_id,omitempty"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Address struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ContactName   string    `json:"contact_name"`
	ContactPhone  string    `json:"contact_phone"`
	Province      *string   `json:"province,omitempty"`
	City          *string   `json:"city,omitempty"`
	District      *string   `json:"district,omitempty"`
	DetailAddress string    `json:"detail_address"`
	FullAddress   string    `json:"full_address"`
	PostalCode    *string   `json:"postal_code,omitempty"`
	IsDefault     bool      `json:"is_default"`
	AddressType   string    `json:"address_type"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderStatusCompleted is the only status this core writes; later transitions
// belong to the admin side.
const (
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

const AddressTypeHome = "home"

// PaymentMethod is a presentational label; no gateway sits behind either value.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
)

// ParsePaymentMethod defaults an empty value to cash on delivery.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PaymentMethodCOD:
		return PaymentMethodCOD, nil
	case PaymentMethodOnline:
		return PaymentMethodOnline, nil
	default:
		return "", fmt.Errorf("unsupported payment method %q", raw)
	}
}

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodOnline
}

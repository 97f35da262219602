package ordering

import (
	"strings"
	"unicode/utf8"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/models"
)

const maxItemsPerOrder = 100

// Column widths of the orders and addresses tables, in characters.
const (
	maxContactNameLength  = 100
	maxContactPhoneLength = 30
	maxRegionLength       = 50
	maxPostalCodeLength   = 10
	maxReferralCodeLength = 20
)

type ItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type PlaceOrderRequest struct {
	Items           []ItemRequest        `json:"items"`
	ContactName     string               `json:"contact_name"`
	ContactPhone    string               `json:"contact_phone"`
	CountryCode     string               `json:"country_code,omitempty"`
	DeliveryAddress string               `json:"delivery_address"`
	Province        *string              `json:"province,omitempty"`
	City            *string              `json:"city,omitempty"`
	District        *string              `json:"district,omitempty"`
	PostalCode      *string              `json:"postal_code,omitempty"`
	PaymentMethod   models.PaymentMethod `json:"payment_method"`
	Notes           string               `json:"notes,omitempty"`
	ReferralCode    string               `json:"referral_code,omitempty"`
	ClearCart       bool                 `json:"clear_cart,omitempty"`
}

// Placement is what a successful PlaceOrder returns. User and Token are set
// only when the order provisioned a guest account.
type Placement struct {
	Order          *models.Order      `json:"order"`
	Items          []models.OrderItem `json:"items"`
	User           *models.User       `json:"user,omitempty"`
	Token          string             `json:"token,omitempty"`
	AutoRegistered bool               `json:"autoRegistered,omitempty"`
}

func (r *PlaceOrderRequest) normalize() {
	r.ContactName = strings.TrimSpace(r.ContactName)
	r.ContactPhone = strings.TrimSpace(r.ContactPhone)
	r.CountryCode = strings.TrimSpace(r.CountryCode)
	r.DeliveryAddress = strings.TrimSpace(r.DeliveryAddress)
	r.Notes = strings.TrimSpace(r.Notes)
	r.ReferralCode = strings.TrimSpace(r.ReferralCode)
	for _, field := range []**string{&r.Province, &r.City, &r.District, &r.PostalCode} {
		if *field == nil {
			continue
		}
		trimmed := strings.TrimSpace(**field)
		if trimmed == "" {
			*field = nil
		} else {
			*field = &trimmed
		}
	}
	// An unknown method is left as sent for Validate to reject.
	if method, err := models.ParsePaymentMethod(string(r.PaymentMethod)); err == nil {
		r.PaymentMethod = method
	}
}

// Validate checks request shape only; stock and identity are checked inside
// the transaction.
func (r PlaceOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	if len(r.Items) > maxItemsPerOrder {
		return apperr.Validation("order must contain at most %d items", maxItemsPerOrder)
	}
	for i, item := range r.Items {
		if item.ProductID <= 0 {
			return apperr.Validation("item %d: product_id must be positive", i+1)
		}
		if item.Quantity <= 0 {
			return apperr.Validation("item %d: quantity must be positive", i+1)
		}
	}
	if strings.TrimSpace(r.ContactName) == "" {
		return apperr.Validation("contact_name is required")
	}
	if strings.TrimSpace(r.ContactPhone) == "" {
		return apperr.Validation("contact_phone is required")
	}
	if strings.TrimSpace(r.DeliveryAddress) == "" {
		return apperr.Validation("delivery_address is required")
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("payment_method must be cod or online")
	}

	limits := []struct {
		field string
		value *string
		max   int
	}{
		{"contact_name", &r.ContactName, maxContactNameLength},
		{"contact_phone", &r.ContactPhone, maxContactPhoneLength},
		{"province", r.Province, maxRegionLength},
		{"city", r.City, maxRegionLength},
		{"district", r.District, maxRegionLength},
		{"postal_code", r.PostalCode, maxPostalCodeLength},
		{"referral_code", &r.ReferralCode, maxReferralCodeLength},
	}
	for _, l := range limits {
		if l.value != nil && utf8.RuneCountInString(*l.value) > l.max {
			return apperr.Validation("%s must be at most %d characters", l.field, l.max)
		}
	}
	return nil
}

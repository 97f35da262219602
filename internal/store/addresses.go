package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/models"
)

type CreateAddressParams struct {
	UserID        int64
	ContactName   string
	ContactPhone  string
	Province      *string
	City          *string
	District      *string
	DetailAddress string
	PostalCode    *string
	IsDefault     bool
}

// CreateAddress inserts an address. When IsDefault is set, the user's other
// addresses lose their default flag first so at most one default exists.
func CreateAddress(ctx context.Context, q database.Querier, p CreateAddressParams) (*models.Address, error) {
	if p.IsDefault {
		_, err := q.ExecContext(ctx,
			`UPDATE addresses SET is_default = FALSE, updated_at = NOW()
			 WHERE user_id = $1 AND is_default`,
			p.UserID)
		if err != nil {
			return nil, fmt.Errorf("clear default address: %w", err)
		}
	}

	query := `
		INSERT INTO addresses (user_id, contact_name, contact_phone, province, city, district,
		                       detail_address, full_address, postal_code, is_default, address_type,
		                       created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	addr := &models.Address{
		UserID:        p.UserID,
		ContactName:   p.ContactName,
		ContactPhone:  p.ContactPhone,
		Province:      p.Province,
		City:          p.City,
		District:      p.District,
		DetailAddress: p.DetailAddress,
		FullAddress:   FullAddress(p.Province, p.City, p.District, p.DetailAddress),
		PostalCode:    p.PostalCode,
		IsDefault:     p.IsDefault,
		AddressType:   models.AddressTypeHome,
	}

	err := q.QueryRowContext(ctx, query,
		addr.UserID, addr.ContactName, addr.ContactPhone, addr.Province, addr.City, addr.District,
		addr.DetailAddress, addr.FullAddress, addr.PostalCode, addr.IsDefault, addr.AddressType,
	).Scan(&addr.ID, &addr.CreatedAt, &addr.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}

	return addr, nil
}

func ListAddresses(ctx context.Context, q database.Querier, userID int64) ([]models.Address, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, contact_name, contact_phone, province, city, district, detail_address,
		        full_address, postal_code, is_default, address_type, created_at, updated_at
		 FROM addresses
		 WHERE user_id = $1
		 ORDER BY is_default DESC, created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addresses []models.Address
	for rows.Next() {
		var a models.Address
		var province, city, district, postalCode sql.NullString
		err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.ContactName,
			&a.ContactPhone,
			&province,
			&city,
			&district,
			&a.DetailAddress,
			&a.FullAddress,
			&postalCode,
			&a.IsDefault,
			&a.AddressType,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		a.Province = nullableString(province)
		a.City = nullableString(city)
		a.District = nullableString(district)
		a.PostalCode = nullableString(postalCode)
		addresses = append(addresses, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return addresses, nil
}

// FullAddress joins the structured parts that are present, coarse to fine.
func FullAddress(province, city, district *string, detail string) string {
	var parts []string
	for _, p := range []*string{province, city, district} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	parts = append(parts, strings.TrimSpace(detail))
	return strings.Join(parts, " ")
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/models"
)

const userColumns = `id, username, nickname, country_code, phone, password_hash,
	referral_code, referred_by_code, is_active, created_at, updated_at, version`

type CreateUserParams struct {
	Username       string
	Nickname       string
	CountryCode    string
	Phone          string
	PasswordHash   string
	ReferralCode   string
	ReferredByCode *string
}

// CreateUser inserts a user. A clash on referral_code returns
// database.ErrReferralCodeTaken without aborting the surrounding transaction;
// clashes on phone or username surface as the raw unique violation.
func CreateUser(ctx context.Context, q database.Querier, p CreateUserParams) (*models.User, error) {
	query := `
		INSERT INTO users (username, nickname, country_code, phone, password_hash,
		                   referral_code, referred_by_code, is_active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW(), 1)
		ON CONFLICT (referral_code) DO NOTHING
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRowContext(ctx, query,
		p.Username, p.Nickname, p.CountryCode, p.Phone, p.PasswordHash, p.ReferralCode, p.ReferredByCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrReferralCodeTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q database.Querier, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func GetUserByPhone(ctx context.Context, q database.Querier, countryCode, phone string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE country_code = $1 AND phone = $2`

	user, err := scanUser(q.QueryRowContext(ctx, query, countryCode, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by phone: %w", err)
	}

	return user, nil
}

// SetUserActive is the deactivation hook used by the admin side; the checkout
// core only reads the flag.
func SetUserActive(ctx context.Context, q database.Querier, id int64, active bool) error {
	result, err := q.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = NOW(), version = version + 1 WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}

	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var referredBy sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Nickname,
		&user.CountryCode,
		&user.Phone,
		&user.PasswordHash,
		&user.ReferralCode,
		&referredBy,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, err
	}

	if referredBy.Valid {
		user.ReferredByCode = &referredBy.String
	}

	return user, nil
}

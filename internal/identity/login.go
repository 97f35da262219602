package identity

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/models"
	"github.com/safar/checkout-core/internal/store"
)

// Authenticate checks a phone/password pair. Unknown phones and wrong
// passwords are indistinguishable to the caller.
func Authenticate(ctx context.Context, q database.Querier, rawPhone, countryCode, password string) (*models.User, error) {
	phone, err := NormalizePhone(rawPhone, countryCode)
	if err != nil {
		return nil, err
	}

	user, err := store.GetUserByPhone(ctx, q, phone.CountryCode, phone.Number)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, apperr.Unauthorized("invalid phone number or password")
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized("invalid phone number or password")
	}

	if !user.IsActive {
		return nil, apperr.AccountDisabled()
	}

	return user, nil
}

// ActiveUser loads the account behind an access token. A deleted account is
// Unauthorized and a deactivated one is AccountDisabled.
func ActiveUser(ctx context.Context, q database.Querier, userID int64) (*models.User, error) {
	user, err := store.GetUser(ctx, q, userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, apperr.Unauthorized("account no longer exists")
		}
		return nil, fmt.Errorf("load token user: %w", err)
	}

	if !user.IsActive {
		return nil, apperr.AccountDisabled()
	}

	return user, nil
}

// Verifier binds Authenticate to a connection pool.
type Verifier struct {
	q database.Querier
}

func NewVerifier(q database.Querier) *Verifier {
	return &Verifier{q: q}
}

func (v *Verifier) Verify(ctx context.Context, rawPhone, countryCode, password string) (*models.User, error) {
	return Authenticate(ctx, v.q, rawPhone, countryCode, password)
}

func (v *Verifier) Active(ctx context.Context, userID int64) (*models.User, error) {
	return ActiveUser(ctx, v.q, userID)
}

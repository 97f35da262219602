// Package identity provisions lightweight accounts for guest checkout and
// verifies phone/password logins.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/models"
	"github.com/safar/checkout-core/internal/store"
)

const (
	referralAlphabet         = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeLength       = 8
	referralSampleLimit      = 256 - 256%len(referralAlphabet)
	maxReferralCodeLength    = 20
	maxReferralAttempts      = 5
	guestPasswordDigits      = 8
	maxNicknameRunes         = 50
	phoneUniqueConstraint    = "users_country_phone_key"
	usernameUniqueConstraint = "users_username_key"
)

type ProvisionRequest struct {
	Phone        string
	CountryCode  string
	DisplayName  string
	ReferralCode string
}

type ProvisionerDeps struct {
	Logger     *zap.Logger
	BcryptCost int
	// Random feeds referral code generation; crypto/rand when nil.
	Random io.Reader
}

type Provisioner struct {
	logger     *zap.Logger
	bcryptCost int
	random     io.Reader
}

func NewProvisioner(deps ProvisionerDeps) *Provisioner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	random := deps.Random
	if random == nil {
		random = rand.Reader
	}
	return &Provisioner{logger: logger, bcryptCost: cost, random: random}
}

// ProvisionOrFind creates a guest account for the phone number. An existing
// account is never reused: an inactive one yields AccountDisabled, an active
// one AlreadyRegistered. q may be a transaction; nothing here opens its own.
func (p *Provisioner) ProvisionOrFind(ctx context.Context, q database.Querier, req ProvisionRequest) (*models.User, error) {
	phone, err := NormalizePhone(req.Phone, req.CountryCode)
	if err != nil {
		return nil, err
	}
	referredBy, err := normalizeReferralCode(req.ReferralCode)
	if err != nil {
		return nil, err
	}

	existing, err := store.GetUserByPhone(ctx, q, phone.CountryCode, phone.Number)
	switch {
	case err == nil:
		if !existing.IsActive {
			return nil, apperr.AccountDisabled()
		}
		return nil, apperr.AlreadyRegistered(nil)
	case !errors.Is(err, database.ErrUserNotFound):
		return nil, fmt.Errorf("look up phone: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(GuestPassword(phone)), p.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash guest password: %w", err)
	}

	params := store.CreateUserParams{
		Username:       GuestUsername(phone),
		Nickname:       guestNickname(req.DisplayName, phone),
		CountryCode:    phone.CountryCode,
		Phone:          phone.Number,
		PasswordHash:   string(hash),
		ReferredByCode: referredBy,
	}

	for attempt := 1; attempt <= maxReferralAttempts; attempt++ {
		code, err := p.newReferralCode()
		if err != nil {
			return nil, err
		}
		params.ReferralCode = code

		user, err := store.CreateUser(ctx, q, params)
		switch {
		case err == nil:
			p.logger.Info("guest account provisioned",
				zap.Int64("user_id", user.ID),
				zap.String("country_code", user.CountryCode),
				zap.Bool("referred", user.ReferredByCode != nil))
			return user, nil
		case errors.Is(err, database.ErrReferralCodeTaken):
			p.logger.Debug("referral code collision, regenerating", zap.Int("attempt", attempt))
			continue
		case database.IsUniqueViolation(err, phoneUniqueConstraint, usernameUniqueConstraint):
			return nil, apperr.AlreadyRegistered(err)
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("generate referral code: %d collisions in a row", maxReferralAttempts)
}

// GuestPassword is the initial password of a provisioned account: the last
// eight digits of the national number.
func GuestPassword(phone Phone) string {
	return lastDigits(phone.Number, guestPasswordDigits)
}

func GuestUsername(phone Phone) string {
	return strings.TrimPrefix(phone.CountryCode, "+") + phone.Number
}

func guestNickname(displayName string, phone Phone) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "User" + lastDigits(phone.Number, 4)
	}
	if utf8.RuneCountInString(name) > maxNicknameRunes {
		name = string([]rune(name)[:maxNicknameRunes])
	}
	return name
}

// normalizeReferralCode keeps the code as free-text attribution; it is not
// checked against existing codes. Over-long codes are rejected rather than cut.
func normalizeReferralCode(raw string) (*string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(code) > maxReferralCodeLength {
		return nil, apperr.Validation("referral_code must be at most %d characters", maxReferralCodeLength)
	}
	return &code, nil
}

// newReferralCode draws uniformly from referralAlphabet, discarding bytes at
// or above referralSampleLimit.
func (p *Provisioner) newReferralCode() (string, error) {
	code := make([]byte, 0, referralCodeLength)
	buf := make([]byte, referralCodeLength)
	for len(code) < referralCodeLength {
		if _, err := io.ReadFull(p.random, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			symbol, ok := referralSymbol(b)
			if !ok {
				continue
			}
			code = append(code, symbol)
			if len(code) == referralCodeLength {
				break
			}
		}
	}
	return string(code), nil
}

func referralSymbol(b byte) (byte, bool) {
	if int(b) >= referralSampleLimit {
		return 0, false
	}
	return referralAlphabet[int(b)%len(referralAlphabet)], true
}

func lastDigits(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

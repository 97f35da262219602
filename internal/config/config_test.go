package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Order.TxTimeout)
	assert.Equal(t, 3, cfg.Order.MaxRetries)
	assert.Equal(t, "+86", cfg.Order.DefaultCountryCode)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "failed", cfg.Cart.MergeRemainder)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ORDER_TX_TIMEOUT", "2s")
	t.Setenv("DEFAULT_COUNTRY_CODE", "+66")
	t.Setenv("CART_MERGE_REMAINDER", "SUFFIX")
	t.Setenv("BCRYPT_COST", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Order.TxTimeout)
	assert.Equal(t, "+66", cfg.Order.DefaultCountryCode)
	assert.Equal(t, "suffix", cfg.Cart.MergeRemainder)
	assert.Equal(t, 4, cfg.Auth.BcryptCost)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestLoadRejectsUnknownRemainderPolicy(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CART_MERGE_REMAINDER", "everything")

	_, err := Load()
	assert.Error(t, err)
}

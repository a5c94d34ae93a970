package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestPermissiveHook(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	ident, err := PermissiveHook{}.Identify(r)
	require.NoError(t, err)
	assert.Empty(t, ident.UserID, "identity is bound later, at join")
}

func TestJWTHook(t *testing.T) {
	h := NewJWTHook(testSecret)

	t.Run("valid token", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u1", "name": "Alice"}, testSecret)
		r := httptest.NewRequest("GET", "/ws?token="+tok, nil)

		ident, err := h.Identify(r)
		require.NoError(t, err)
		assert.Equal(t, types.UserIDType("u1"), ident.UserID)
		assert.Equal(t, "Alice", ident.Name)
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		_, err := h.Identify(r)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u1"}, "ffffffffffffffffffffffffffffffff")
		r := httptest.NewRequest("GET", "/ws?token="+tok, nil)
		_, err := h.Identify(r)
		assert.Error(t, err)
	})

	t.Run("no subject", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"name": "Alice"}, testSecret)
		r := httptest.NewRequest("GET", "/ws?token="+tok, nil)
		_, err := h.Identify(r)
		assert.Error(t, err)
	})

	t.Run("unsigned algorithm rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"})
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/ws?token="+unsigned, nil)
		_, err = h.Identify(r)
		assert.Error(t, err)
	})
}

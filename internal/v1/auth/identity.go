package auth

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// IdentityHook resolves the authenticated identity of an upgrading
// connection. The server does no authorization beyond this hook; the
// identity it returns keys rate limit buckets and session ownership.
type IdentityHook interface {
	Identify(r *http.Request) (*types.Identity, error)
}

// PermissiveHook accepts every connection. Identity is bound later, at
// join_stream time, from the client-supplied userId. This is the default
// when no AUTH_SECRET is configured.
type PermissiveHook struct{}

func (PermissiveHook) Identify(_ *http.Request) (*types.Identity, error) {
	return &types.Identity{}, nil
}

// JWTHook validates a "token" query parameter as an HMAC-signed JWT and
// takes the subject claim as the user identity.
type JWTHook struct {
	secret []byte
}

func NewJWTHook(secret string) *JWTHook {
	return &JWTHook{secret: []byte(secret)}
}

func (h *JWTHook) Identify(r *http.Request) (*types.Identity, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		return nil, errors.New("token not provided")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return h.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, errors.New("token has no subject")
	}

	ident := &types.Identity{UserID: types.UserIDType(sub)}
	if name, ok := claims["name"].(string); ok {
		ident.Name = name
	}
	return ident, nil
}

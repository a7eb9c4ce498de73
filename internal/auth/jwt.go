// Package auth implements the credential-verification collaborator the
// dispatcher calls on every new connection. The chat core never issues or
// stores credentials itself; it only checks that a presented bearer token
// was signed by the authentication service and extracts the identity it
// names.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, wrong algorithm, expired, or malformed.
var ErrInvalidToken = errors.New("invalid credential token")

// Identity is the authenticated principal a verified token names.
type Identity struct {
	UserID string
	Email  string
}

// Verifier validates a bearer credential and resolves the identity behind it.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// Claims is the payload the authentication service signs into each token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256-signed tokens with a shared secret.
type JWTVerifier struct {
	Secret []byte
	Issuer string
}

// Verify parses and validates the signature and expiration of a token
// string. A "Bearer " prefix is tolerated and stripped.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var opts []jwt.ParserOption
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.Secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// Issue signs a token for the given identity. The production issuer lives
// in the authentication service; this mirror exists for tests and local
// tooling.
func (v *JWTVerifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.Issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}

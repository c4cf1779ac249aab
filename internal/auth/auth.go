// Package auth implements the bearer-credential gateway: JWT issue and
// verification on the server, HTTP middleware, and the client-side
// credential file.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stridehq/stride/internal/schema"
)

// Config holds signing parameters shared by the server and token issuer.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 7 * 24 * time.Hour

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Generate issues a signed token carrying the identity.
func Generate(identity schema.Identity, cfg Config) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("auth secret is not configured")
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   identity.UserID,
		"email": identity.Email,
		"iss":   cfg.Issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a bearer token and returns the identity it carries.
func Parse(token string, cfg Config) (*schema.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if userID == "" || email == "" {
		return nil, ErrInvalidToken
	}

	return &schema.Identity{UserID: userID, Email: email}, nil
}

// FromHeader extracts and validates the bearer token from an Authorization
// header value.
func FromHeader(header string, cfg Config) (*schema.Identity, error) {
	if header == "" {
		return nil, ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, ErrInvalidToken
	}
	return Parse(strings.TrimSpace(header[len("Bearer "):]), cfg)
}

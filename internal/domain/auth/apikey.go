package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to the admin order endpoints.
const ScopeAdmin = "admin"

// ErrUnauthorized is returned when a request carries no valid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated identity performing an operation.
type Principal struct {
	ID      string
	Email   string
	IsAdmin bool
}

// Actor returns the name recorded in audit trails for this principal.
func (p Principal) Actor() string {
	if p.Email != "" {
		return p.Email
	}
	return p.ID
}

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	UserID  string
	Email   string
	Name    string
	Scopes  []string
}

// Principal converts the key into the identity it authenticates.
func (k *APIKeyInfo) Principal() Principal {
	return Principal{
		ID:      k.UserID,
		Email:   k.Email,
		IsAdmin: slices.Contains(k.Scopes, ScopeAdmin),
	}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

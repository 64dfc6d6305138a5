package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

// API key headers. APIKeyHeader is the canonical one; the legacy api_key
// header is still accepted.
const (
	APIKeyHeader       = "X-API-Key"
	legacyAPIKeyHeader = "api_key"
)

// TokenClaims are the claims of a bearer token. The subject is the principal
// id.
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the principal of a request from an API key or an
// HS256 bearer token.
type Authenticator struct {
	apikeys   auth.Repository
	pepper    []byte
	jwtSecret []byte
	parser    *jwt.Parser
}

// NewAuthenticator creates an Authenticator. Bearer tokens are rejected when
// jwtSecret is empty.
func NewAuthenticator(apikeys auth.Repository, pepper, jwtSecret []byte) *Authenticator {
	return &Authenticator{
		apikeys:   apikeys,
		pepper:    pepper,
		jwtSecret: jwtSecret,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Middleware rejects requests without valid credentials and stores the
// principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r)
		if err != nil {
			zctx.From(r.Context()).Debug("Authentication failed", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		ctx := zctx.With(auth.WithPrincipal(r.Context(), p), zap.String("principal", p.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate returns the principal the request's credentials identify.
func (a *Authenticator) Authenticate(r *http.Request) (auth.Principal, error) {
	if key := apiKey(r); key != "" {
		return a.fromAPIKey(r, key)
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return a.fromToken(strings.TrimSpace(token))
	}
	return auth.Principal{}, auth.ErrUnauthorized
}

func apiKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	return r.Header.Get(legacyAPIKeyHeader)
}

// fromAPIKey looks the key up by its HMAC. The stored hash is compared in
// constant time in case the repository returns a wrong row.
func (a *Authenticator) fromAPIKey(r *http.Request, key string) (auth.Principal, error) {
	hexHash := auth.HashKey(a.pepper, key)
	info, err := a.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return auth.Principal{}, errors.Wrap(err, "find api key")
	}

	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	p := info.Principal()
	if p.ID == "" {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	return p, nil
}

func (a *Authenticator) fromToken(token string) (auth.Principal, error) {
	if len(a.jwtSecret) == 0 || token == "" {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	var claims TokenClaims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	})
	if err != nil {
		return auth.Principal{}, errors.Wrap(err, "parse token")
	}
	if claims.Subject == "" {
		return auth.Principal{}, errors.Wrap(auth.ErrUnauthorized, "token without subject")
	}
	return auth.Principal{
		ID:      claims.Subject,
		Email:   claims.Email,
		IsAdmin: claims.Admin,
	}, nil
}

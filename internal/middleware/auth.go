package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

type operatorKey struct{}

// WithOperator stores the authenticated operator in the context.
func WithOperator(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operatorKey{}, name)
}

// OperatorFromContext returns the operator who made the request.
func OperatorFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(operatorKey{}).(string)
	return name, ok
}

// Authenticator accepts a bearer token checked by a TokenValidator or a
// static API key sent as X-API-Key.
type Authenticator struct {
	tokens  TokenValidator
	keyHash [][sha256.Size]byte
}

// NewAuthenticator builds an Authenticator. tokens may be nil when only API
// keys are used. Keys are kept as SHA-256 digests.
func NewAuthenticator(tokens TokenValidator, apiKeys []string) *Authenticator {
	a := &Authenticator{tokens: tokens}
	for _, k := range apiKeys {
		a.keyHash = append(a.keyHash, sha256.Sum256([]byte(k)))
	}
	return a
}

// Enabled reports whether any method is configured. A disabled
// Authenticator lets every request through.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.tokens != nil || len(a.keyHash) > 0)
}

// authenticate returns the operator name for the request.
func (a *Authenticator) authenticate(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); a.tokens != nil && strings.HasPrefix(auth, "Bearer ") {
		claims, err := a.tokens.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
		if err == nil && claims.Subject != "" {
			return claims.Subject, true
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		sum := sha256.Sum256([]byte(key))
		for _, h := range a.keyHash {
			if subtle.ConstantTimeCompare(sum[:], h[:]) == 1 {
				return "apikey:" + hex.EncodeToString(sum[:4]), true
			}
		}
	}
	return "", false
}

// Auth rejects unauthenticated requests with 401 and records the operator in
// the request context.
func Auth(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !a.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, ok := a.authenticate(r)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusUnauthorized,
					"message": "unauthorized: provide a valid Bearer token or X-API-Key",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), name)))
		})
	}
}

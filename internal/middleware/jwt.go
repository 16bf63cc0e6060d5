// Package middleware provides the HTTP middleware of the trigger API: operator
// authentication, request ids and per-client rate limiting.
package middleware

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the parsed claims of a validated operator token.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Email    string
	Raw      map[string]any
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

var (
	_ TokenValidator = (*OIDCValidator)(nil)
	_ TokenValidator = (*HS256Validator)(nil)
)

// OIDCValidator validates RS256/ES256 tokens against an OIDC provider's JWKS.
type OIDCValidator struct {
	verifier       *oidc.IDTokenVerifier
	allowedIssuers map[string]bool
}

// NewOIDCValidator discovers the provider at issuerURL. audience is the
// expected client id; empty skips the audience check.
func NewOIDCValidator(ctx context.Context, issuerURL, audience string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	return &OIDCValidator{
		verifier:       provider.Verifier(oidcConfig(audience)),
		allowedIssuers: map[string]bool{issuerURL: true},
	}, nil
}

// NewOIDCValidatorFromJWKS skips discovery and reads keys from jwksURL.
// Tokens from any of allowedIssuers are accepted; with none given only
// issuerURL is.
func NewOIDCValidatorFromJWKS(ctx context.Context, jwksURL, issuerURL, audience string, allowedIssuers []string) *OIDCValidator {
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	issuers := make(map[string]bool, len(allowedIssuers))
	for _, iss := range allowedIssuers {
		issuers[iss] = true
	}
	if len(issuers) == 0 && issuerURL != "" {
		issuers[issuerURL] = true
	}
	cfg := oidcConfig(audience)
	if len(allowedIssuers) > 0 {
		cfg.SkipIssuerCheck = true
	}
	return &OIDCValidator{verifier: oidc.NewVerifier(issuerURL, keySet, cfg), allowedIssuers: issuers}
}

func oidcConfig(audience string) *oidc.Config {
	return &oidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""}
}

// Validate verifies the token signature, expiry, audience and issuer.
func (v *OIDCValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if len(v.allowedIssuers) > 0 && !v.allowedIssuers[idToken.Issuer] {
		return nil, fmt.Errorf("issuer %q not in allowed list", idToken.Issuer)
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	claims := &Claims{
		Subject:  idToken.Subject,
		Issuer:   idToken.Issuer,
		Audience: idToken.Audience,
		Raw:      raw,
	}
	claims.Email, _ = raw["email"].(string)
	return claims, nil
}

// HS256Validator validates tokens signed with a shared secret. Meant for
// development and service-to-service calls.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator returns a validator for secret.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies an HS256 token and extracts its claims.
func (v *HS256Validator) Validate(_ context.Context, token string) (*Claims, error) {
	tok, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}

	claims := &Claims{Raw: raw}
	claims.Subject, _ = raw.GetSubject()
	claims.Issuer, _ = raw.GetIssuer()
	if aud, err := raw.GetAudience(); err == nil && len(aud) > 0 {
		claims.Audience = aud
	}
	claims.Email, _ = raw["email"].(string)
	return claims, nil
}

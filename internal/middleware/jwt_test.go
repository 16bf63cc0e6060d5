package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestNewHS256Validator_RequiresSecret(t *testing.T) {
	_, err := NewHS256Validator("")
	require.Error(t, err)
}

func TestHS256Validator_Validate(t *testing.T) {
	const secret = "test-secret-32-bytes-long-xxxxx"
	v, err := NewHS256Validator(secret)
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Unix()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rs256, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "x", "exp": exp}).SignedString(rsaKey)
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		wantErr   bool
		wantSub   string
		wantIss   string
		wantEmail string
		wantAud   []string
	}{
		{
			name: "all_claims",
			token: makeToken(t, secret, jwt.MapClaims{
				"sub": "ops-1", "iss": "https://auth.example.com", "email": "ops@example.com", "aud": "maskflow", "exp": exp,
			}),
			wantSub: "ops-1", wantIss: "https://auth.example.com", wantEmail: "ops@example.com", wantAud: []string{"maskflow"},
		},
		{
			name:    "audience_list",
			token:   makeToken(t, secret, jwt.MapClaims{"sub": "ops-2", "aud": []string{"a", "b"}, "exp": exp}),
			wantSub: "ops-2", wantAud: []string{"a", "b"},
		},
		{name: "expired", token: makeToken(t, secret, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}), wantErr: true},
		{name: "missing_exp", token: makeToken(t, secret, jwt.MapClaims{"sub": "x"}), wantErr: true},
		{name: "wrong_secret", token: makeToken(t, "other", jwt.MapClaims{"sub": "x", "exp": exp}), wantErr: true},
		{name: "rs256_rejected", token: rs256, wantErr: true},
		{name: "malformed", token: "not.a.jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Validate(context.Background(), tt.token)
			if tt.wantErr {
				require.ErrorContains(t, err, "token verification failed")
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, claims.Subject)
			assert.Equal(t, tt.wantIss, claims.Issuer)
			assert.Equal(t, tt.wantEmail, claims.Email)
			assert.Equal(t, tt.wantAud, claims.Audience)
			assert.NotNil(t, claims.Raw)
		})
	}
}

func TestNewOIDCValidatorFromJWKS(t *testing.T) {
	tests := []struct {
		name    string
		issuer  string
		allowed []string
		want    map[string]bool
	}{
		{"explicit_allow_list", "https://auth.example.com", []string{"https://a.example.com", "https://b.example.com"},
			map[string]bool{"https://a.example.com": true, "https://b.example.com": true}},
		{"defaults_to_issuer", "https://auth.example.com", nil, map[string]bool{"https://auth.example.com": true}},
		{"no_issuer", "", nil, map[string]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewOIDCValidatorFromJWKS(context.Background(), "https://auth.example.com/jwks.json", tt.issuer, "maskflow", tt.allowed)
			assert.Equal(t, tt.want, v.allowedIssuers)
			assert.NotNil(t, v.verifier)
		})
	}
}

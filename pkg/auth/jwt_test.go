package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsvishaal/web-extraction-agent/pkg/config"
)

// ============================================================================
// ==== CONSTRUCTION ====
// ============================================================================

func TestNewJWTValidator_RequiresJWKSURL(t *testing.T) {
	_, err := NewJWTValidator(JWTValidatorConfig{Issuer: testIssuer, Audience: testAudience})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwks_url is required")
}

func TestNewJWTValidator_UnreachableJWKS(t *testing.T) {
	_, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:  "http://127.0.0.1:1/.well-known/jwks.json",
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch JWKS")
}

func TestNewJWTValidator_DefaultRefreshInterval(t *testing.T) {
	_, keyset := testKeys(t)
	validator, err := NewJWTValidator(JWTValidatorConfig{JWKSURL: serveJWKS(t, keyset)})
	require.NoError(t, err)
	t.Cleanup(validator.Close)

	assert.Equal(t, 15*time.Minute, validator.cfg.RefreshInterval)
}

// ============================================================================
// ==== TOKEN VALIDATION ====
// ============================================================================

func TestValidateToken_ExtractsClaims(t *testing.T) {
	validator, privateKey := newValidator(t)

	token := signToken(t, privateKey, testIssuer, testAudience, map[string]any{
		"email":     "alex@example.com",
		"role":      "admin",
		"tenant_id": "tenant-7",
		"team":      "extraction",
	})

	claims, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "alex@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "tenant-7", claims.TenantID)
	assert.Equal(t, "extraction", claims.GetStringClaim("team"))

	// Mapped claims do not also land in Custom.
	_, ok := claims.GetClaim("email")
	assert.False(t, ok)
	_, ok = claims.GetClaim("role")
	assert.False(t, ok)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	validator, privateKey := newValidator(t)

	token := signToken(t, privateKey, "https://other-issuer.test", testAudience, nil)
	_, err := validator.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	validator, privateKey := newValidator(t)

	token := signToken(t, privateKey, testIssuer, "some-other-api", nil)
	_, err := validator.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	validator, privateKey := newValidator(t)

	token := signToken(t, privateKey, testIssuer, testAudience, map[string]any{
		jwt.ExpirationKey: time.Now().Add(-time.Hour),
	})
	_, err := validator.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateToken_Malformed(t *testing.T) {
	validator, _ := newValidator(t)

	_, err := validator.ValidateToken(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_WrongSigningKey(t *testing.T) {
	validator, _ := newValidator(t)

	// Signed by a key the JWKS never published.
	rogueKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := signToken(t, rogueKey, testIssuer, testAudience, nil)

	_, err = validator.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

// ============================================================================
// ==== FACTORY ====
// ============================================================================

func TestNewValidatorFromSettings_NilSettings(t *testing.T) {
	validator, err := NewValidatorFromSettings(nil)
	require.NoError(t, err)
	assert.Nil(t, validator)
}

func TestNewValidatorFromSettings_Disabled(t *testing.T) {
	validator, err := NewValidatorFromSettings(&config.AuthSettings{
		Enabled:  false,
		JWKSURL:  "https://auth.example.com/.well-known/jwks.json",
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	require.NoError(t, err)
	assert.Nil(t, validator)
}

func TestNewValidatorFromSettings_Incomplete(t *testing.T) {
	// Enabled without issuer/audience does not count as enabled.
	validator, err := NewValidatorFromSettings(&config.AuthSettings{
		Enabled: true,
		JWKSURL: "https://auth.example.com/.well-known/jwks.json",
	})
	require.NoError(t, err)
	assert.Nil(t, validator)
}

func TestNewValidatorFromSettings_Enabled(t *testing.T) {
	_, keyset := testKeys(t)

	validator, err := NewValidatorFromSettings(&config.AuthSettings{
		Enabled:  true,
		JWKSURL:  serveJWKS(t, keyset),
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	require.NoError(t, err)
	require.NotNil(t, validator)
	t.Cleanup(validator.Close)
}

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "web-extraction-agent-api"
	testKeyID    = "test-key-id"
)

// testKeys generates an RSA key pair and the JWKS publishing its public half.
func testKeys(t *testing.T) (*rsa.PrivateKey, jwk.Set) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(key))
	return privateKey, keyset
}

// serveJWKS serves the keyset over HTTP and returns the JWKS URL.
func serveJWKS(t *testing.T, keyset jwk.Set) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(keyset))
	}))
	t.Cleanup(server.Close)

	return server.URL + "/.well-known/jwks.json"
}

// signToken signs a token with sensible defaults. Entries in extra override
// the defaults, including registered claims like jwt.ExpirationKey.
func signToken(t *testing.T, privateKey *rsa.PrivateKey, issuer, audience string, extra map[string]any) string {
	t.Helper()

	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, issuer))
	require.NoError(t, token.Set(jwt.AudienceKey, audience))
	require.NoError(t, token.Set(jwt.SubjectKey, "user-123"))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now()))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	for key, value := range extra {
		require.NoError(t, token.Set(key, value))
	}

	key, err := jwk.FromRaw(privateKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

// newValidator builds a validator wired to a test JWKS endpoint.
func newValidator(t *testing.T) (*JWTValidator, *rsa.PrivateKey) {
	t.Helper()

	privateKey, keyset := testKeys(t)
	validator, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:  serveJWKS(t, keyset),
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	require.NoError(t, err)
	t.Cleanup(validator.Close)

	return validator, privateKey
}

package identity

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufelip/meer-api/internal/domain"
)

const testBundleID = "com.meer.app"

func appleClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            AppleIssuer,
		"aud":            testBundleID,
		"sub":            "001234.abcdef",
		"email":          "Ana@PrivateRelay.AppleID.com",
		"email_verified": "true",
		"iat":            now.Unix(),
		"exp":            now.Add(10 * time.Minute).Unix(),
	}
}

func newTestAppleVerifier(t *testing.T) *AppleVerifier {
	t.Helper()
	a, _ := testKeys(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{testKid: &a.PublicKey})
	return NewAppleVerifier(testBundleID, newTestKeySource(srv, nil))
}

func TestAppleVerifier_Valid(t *testing.T) {
	v := newTestAppleVerifier(t)
	a, _ := testKeys(t)

	id, err := v.Verify(context.Background(), signIDToken(t, a, testKid, appleClaims()), "iOS")
	require.NoError(t, err)
	assert.Equal(t, "ana@privaterelay.appleid.com", id.Email)
	assert.Equal(t, "ana@privaterelay.appleid.com", id.Name)
	assert.Empty(t, id.PhotoURL)
}

func TestAppleVerifier_Rejects(t *testing.T) {
	a, b := testKeys(t)

	tests := []struct {
		name     string
		platform string
		key      *rsa.PrivateKey
		mutate   func(jwt.MapClaims)
	}{
		{name: "android client", platform: "android", key: a},
		{name: "web client", platform: "web", key: a},
		{name: "google issuer", platform: "ios", key: a, mutate: func(c jwt.MapClaims) { c["iss"] = "https://accounts.google.com" }},
		{name: "other audience", platform: "ios", key: a, mutate: func(c jwt.MapClaims) { c["aud"] = "com.other.app" }},
		{name: "expired", platform: "ios", key: a, mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{name: "no email", platform: "ios", key: a, mutate: func(c jwt.MapClaims) { delete(c, "email") }},
		{name: "wrong signer", platform: "ios", key: b},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestAppleVerifier(t)
			claims := appleClaims()
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			_, err := v.Verify(context.Background(), signIDToken(t, tt.key, testKid, claims), tt.platform)
			assert.ErrorIs(t, err, domain.ErrInvalidExternalToken)
		})
	}
}

func TestAppleVerifier_UnconfiguredBundleRejectsEverything(t *testing.T) {
	a, _ := testKeys(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{testKid: &a.PublicKey})
	v := NewAppleVerifier("", newTestKeySource(srv, nil))

	_, err := v.Verify(context.Background(), signIDToken(t, a, testKid, appleClaims()), "ios")
	assert.ErrorIs(t, err, domain.ErrInvalidExternalToken)
	assert.Equal(t, int32(0), srv.hits.Load())
}

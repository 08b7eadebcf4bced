package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySource_CachesUntilMaxAge(t *testing.T) {
	a, _ := testKeys(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{testKid: &a.PublicKey})
	ks := newTestKeySource(srv, nil)

	now := time.Now()
	ks.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		key, err := ks.Key(context.Background(), testKid)
		require.NoError(t, err)
		assert.Equal(t, a.PublicKey.N, key.N)
	}
	assert.Equal(t, int32(1), srv.hits.Load())

	now = now.Add(time.Hour + time.Second)
	_, err := ks.Key(context.Background(), testKid)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestKeySource_UnknownKidRefetchesAtMostOncePerInterval(t *testing.T) {
	a, b := testKeys(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{testKid: &a.PublicKey})
	ks := newTestKeySource(srv, nil)

	now := time.Now()
	ks.now = func() time.Time { return now }

	_, err := ks.Key(context.Background(), testKid)
	require.NoError(t, err)

	// Rotation published after the first fetch.
	srv.setKeys(map[string]*rsa.PublicKey{testKid: &a.PublicKey, "key-2": &b.PublicKey})

	_, err = ks.Key(context.Background(), "key-2")
	assert.True(t, errors.Is(err, ErrUnknownKey))
	assert.Equal(t, int32(1), srv.hits.Load())

	now = now.Add(defaultMinRefresh)
	key, err := ks.Key(context.Background(), "key-2")
	require.NoError(t, err)
	assert.Equal(t, b.PublicKey.N, key.N)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestKeySource_ErrorStatus(t *testing.T) {
	a, _ := testKeys(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{testKid: &a.PublicKey})
	srv.status = http.StatusNotFound
	ks := newTestKeySource(srv, nil)

	_, err := ks.Key(context.Background(), testKid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch signing keys")
}

func TestMaxAge(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"public, max-age=19800, must-revalidate, no-transform", 19800 * time.Second},
		{"Max-Age=60", time.Minute},
		{"no-cache", defaultKeyTTL},
		{"max-age=abc", defaultKeyTTL},
		{"max-age=0", defaultKeyTTL},
		{"", defaultKeyTTL},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maxAge(tt.header), tt.header)
	}
}

func TestParseKeySet(t *testing.T) {
	a, _ := testKeys(t)

	keys, err := parseKeySet(jwksDocument(map[string]*rsa.PublicKey{testKid: &a.PublicKey}))
	require.NoError(t, err)
	require.Contains(t, keys, testKid)
	assert.Equal(t, a.PublicKey.E, keys[testKid].E)
	assert.Equal(t, 0, a.PublicKey.N.Cmp(keys[testKid].N))
}

func TestParseKeySet_SkipsNonSigningKeys(t *testing.T) {
	a, b := testKeys(t)
	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	doc, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &ec.PublicKey, KeyID: "ec", Algorithm: "ES256", Use: "sig"},
		{Key: &b.PublicKey, KeyID: "enc", Algorithm: "RSA-OAEP", Use: "enc"},
		{Key: &a.PublicKey, Algorithm: "RS256", Use: "sig"},
		{Key: &a.PublicKey, KeyID: testKid, Algorithm: "RS256"},
	}})
	require.NoError(t, err)

	keys, err := parseKeySet(doc)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Contains(t, keys, testKid)
}

func TestParseKeySet_Invalid(t *testing.T) {
	docs := map[string]string{
		"not json":      `{"keys":`,
		"no rsa keys":   `{"keys":[{"kid":"ec","kty":"EC","x":"AA","y":"AA"}]}`,
		"bad modulus":   `{"keys":[{"kid":"k","kty":"RSA","n":"***","e":"AQAB"}]}`,
		"tiny exponent": `{"keys":[{"kid":"k","kty":"RSA","n":"AQAB","e":"AQ"}]}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := parseKeySet([]byte(doc))
			assert.Error(t, err)
		})
	}
}

package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufelip/meer-api/internal/domain"
	"github.com/edufelip/meer-api/pkg/httpclient"
)

const (
	testKid      = "key-1"
	testClientID = "web-client.apps.googleusercontent.com"
)

var (
	keyOnce sync.Once
	keyA    *rsa.PrivateKey
	keyB    *rsa.PrivateKey
)

// testKeys generates the RSA keys once per test binary.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		keyA, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		keyB, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return keyA, keyB
}

func jwksDocument(keys map[string]*rsa.PublicKey) []byte {
	var set jose.JSONWebKeySet
	for kid, k := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: k, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	}
	doc, _ := json.Marshal(set)
	return doc
}

// jwksServer serves the current document and counts requests.
type jwksServer struct {
	*httptest.Server
	hits   atomic.Int32
	mu     sync.Mutex
	doc    []byte
	status int
}

func newJWKSServer(t *testing.T, keys map[string]*rsa.PublicKey) *jwksServer {
	t.Helper()
	s := &jwksServer{doc: jwksDocument(keys), status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		w.WriteHeader(s.status)
		_, _ = w.Write(s.doc)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys map[string]*rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = jwksDocument(keys)
}

func testClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = 2 * time.Second
	return httpclient.New(cfg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKeySource(srv *jwksServer, cache KeyCache) *KeySource {
	return NewKeySource(testClient(), KeySourceConfig{URL: srv.URL, Cache: cache}, quietLogger())
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"sub":            "1098765",
		"email":          "Ana@Example.com",
		"email_verified": true,
		"name":           "Ana Souza",
		"picture":        "https://lh3.googleusercontent.com/a/ana",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func newTestVerifier(t *testing.T) (*GoogleVerifier, *jwksServer) {
	t.Helper()
	a, _ := testKeys(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{testKid: &a.PublicKey})
	clients := ClientIDs{Android: "android-client", IOS: "ios-client", Web: testClientID}
	return NewGoogleVerifier(clients, newTestKeySource(srv, nil)), srv
}

func TestGoogleVerifier_Valid(t *testing.T) {
	v, _ := newTestVerifier(t)
	a, _ := testKeys(t)

	id, err := v.Verify(context.Background(), signIDToken(t, a, testKid, validClaims()), "web")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", id.Email)
	assert.Equal(t, "Ana Souza", id.Name)
	assert.Equal(t, "https://lh3.googleusercontent.com/a/ana", id.PhotoURL)
}

func TestGoogleVerifier_PlatformIsCaseInsensitive(t *testing.T) {
	v, _ := newTestVerifier(t)
	a, _ := testKeys(t)

	claims := validClaims()
	claims["aud"] = "ios-client"
	claims["iss"] = "accounts.google.com"

	_, err := v.Verify(context.Background(), signIDToken(t, a, testKid, claims), "IOS")
	assert.NoError(t, err)
}

func TestGoogleVerifier_NameFallsBackToEmail(t *testing.T) {
	v, _ := newTestVerifier(t)
	a, _ := testKeys(t)

	claims := validClaims()
	delete(claims, "name")
	delete(claims, "picture")

	id, err := v.Verify(context.Background(), signIDToken(t, a, testKid, claims), "web")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", id.Name)
	assert.Empty(t, id.PhotoURL)
}

func TestGoogleVerifier_Rejects(t *testing.T) {
	a, b := testKeys(t)

	tests := []struct {
		name     string
		platform string
		token    func(t *testing.T) string
	}{
		{"unknown platform", "desktop", func(t *testing.T) string {
			return signIDToken(t, a, testKid, validClaims())
		}},
		{"platform without client id", "", func(t *testing.T) string {
			return signIDToken(t, a, testKid, validClaims())
		}},
		{"empty token", "web", func(*testing.T) string { return "" }},
		{"garbage token", "web", func(*testing.T) string { return "not.a.jwt" }},
		{"wrong audience", "android", func(t *testing.T) string {
			return signIDToken(t, a, testKid, validClaims())
		}},
		{"untrusted issuer", "web", func(t *testing.T) string {
			c := validClaims()
			c["iss"] = "https://evil.example.com"
			return signIDToken(t, a, testKid, c)
		}},
		{"expired", "web", func(t *testing.T) string {
			c := validClaims()
			c["iat"] = time.Now().Add(-3 * time.Hour).Unix()
			c["exp"] = time.Now().Add(-2 * time.Hour).Unix()
			return signIDToken(t, a, testKid, c)
		}},
		{"missing exp", "web", func(t *testing.T) string {
			c := validClaims()
			delete(c, "exp")
			return signIDToken(t, a, testKid, c)
		}},
		{"missing email", "web", func(t *testing.T) string {
			c := validClaims()
			delete(c, "email")
			return signIDToken(t, a, testKid, c)
		}},
		{"signed by unpublished key", "web", func(t *testing.T) string {
			return signIDToken(t, b, testKid, validClaims())
		}},
		{"unknown kid", "web", func(t *testing.T) string {
			return signIDToken(t, a, "key-9", validClaims())
		}},
		{"missing kid", "web", func(t *testing.T) string {
			return signIDToken(t, a, "", validClaims())
		}},
		{"hmac signed", "web", func(t *testing.T) string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
			tok.Header["kid"] = testKid
			s, err := tok.SignedString([]byte("a-shared-secret-that-is-long-enough"))
			require.NoError(t, err)
			return s
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestVerifier(t)
			_, err := v.Verify(context.Background(), tt.token(t), tt.platform)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidExternalToken), err.Error())
		})
	}
}

func TestGoogleVerifier_KeyEndpointDownFailsClosed(t *testing.T) {
	v, srv := newTestVerifier(t)
	a, _ := testKeys(t)
	srv.mu.Lock()
	srv.status = http.StatusServiceUnavailable
	srv.mu.Unlock()

	_, err := v.Verify(context.Background(), signIDToken(t, a, testKid, validClaims()), "web")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidExternalToken))
}

func TestGoogleVerifier_CustomIssuersAndClock(t *testing.T) {
	a, _ := testKeys(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{testKid: &a.PublicKey})
	past := time.Now().Add(-48 * time.Hour)

	v := NewGoogleVerifier(ClientIDs{Web: testClientID}, newTestKeySource(srv, nil),
		WithIssuers("https://issuer.test"),
		WithVerifierClock(func() time.Time { return past }),
	)

	c := validClaims()
	c["iss"] = "https://issuer.test"
	c["iat"] = past.Add(-time.Minute).Unix()
	c["exp"] = past.Add(time.Hour).Unix()

	_, err := v.Verify(context.Background(), signIDToken(t, a, testKid, c), "web")
	assert.NoError(t, err)

	c["iss"] = "https://accounts.google.com"
	_, err = v.Verify(context.Background(), signIDToken(t, a, testKid, c), "web")
	assert.True(t, errors.Is(err, domain.ErrInvalidExternalToken))
}

func TestClientIDs_For(t *testing.T) {
	c := ClientIDs{Android: "a", IOS: " ", Web: "w"}

	id, ok := c.For(" Android ")
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	_, ok = c.For("ios")
	assert.False(t, ok)

	_, ok = c.For("windows")
	assert.False(t, ok)
}

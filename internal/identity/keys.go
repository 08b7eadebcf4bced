package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/edufelip/meer-api/pkg/httpclient"
)

// GoogleCertsURL publishes the keys Google signs ID tokens with.
const GoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

const (
	defaultKeyTTL      = time.Hour
	defaultMinRefresh  = time.Minute
	maxKeySetBodyBytes = 1 << 20
)

// ErrUnknownKey is returned when no published key matches a token's kid.
var ErrUnknownKey = errors.New("signing key not found")

// Getter issues GET requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// KeySourceConfig configures a KeySource.
type KeySourceConfig struct {
	URL string
	// MinRefresh bounds how often an unknown kid can force a refetch.
	MinRefresh time.Duration
	// Cache, when set, is consulted before the network and filled after.
	Cache KeyCache
}

// KeySource serves RSA public keys from a JWKS endpoint and keeps them
// until the endpoint's Cache-Control max-age elapses.
type KeySource struct {
	url        string
	client     Getter
	cache      KeyCache
	minRefresh time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time

	// fetchMu serializes refreshes so concurrent misses share one fetch.
	fetchMu sync.Mutex
}

// NewKeySource returns a KeySource reading cfg.URL, or GoogleCertsURL when
// the URL is empty.
func NewKeySource(client Getter, cfg KeySourceConfig, logger *slog.Logger) *KeySource {
	if cfg.URL == "" {
		cfg.URL = GoogleCertsURL
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = defaultMinRefresh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySource{
		url:        cfg.URL,
		client:     client,
		cache:      cfg.Cache,
		minRefresh: cfg.MinRefresh,
		logger:     logger,
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
}

// Key returns the public key with the given kid.
func (s *KeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, fresh := s.lookup(kid); key != nil && fresh {
		return key, nil
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	// Another caller may have refreshed while this one waited.
	key, fresh := s.lookup(kid)
	if key != nil && fresh {
		return key, nil
	}
	if fresh && s.recentlyFetched() {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}

	if err := s.refresh(ctx, fresh); err != nil {
		return nil, err
	}

	if key, _ := s.lookup(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (s *KeySource) lookup(kid string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[kid], s.now().Before(s.expiresAt)
}

func (s *KeySource) recentlyFetched() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Sub(s.fetchedAt) < s.minRefresh
}

// refresh replaces the key set. The shared cache is skipped when the
// in-process set is still fresh, since a kid miss means the cached copy is
// likely the same stale document.
func (s *KeySource) refresh(ctx context.Context, forced bool) error {
	if s.cache != nil && !forced {
		doc, expiresAt, ok, err := s.cache.Load(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "key cache unavailable", slog.String("error", err.Error()))
		}
		if ok {
			keys, err := parseKeySet(doc)
			if err == nil {
				s.install(keys, expiresAt)
				return nil
			}
			s.logger.WarnContext(ctx, "discarding cached key set", slog.String("error", err.Error()))
		}
	}

	doc, ttl, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	keys, err := parseKeySet(doc)
	if err != nil {
		return err
	}

	expiresAt := s.now().Add(ttl)
	s.install(keys, expiresAt)
	s.logger.DebugContext(ctx, "signing keys refreshed",
		slog.Int("keys", len(keys)),
		slog.Duration("ttl", ttl),
	)

	if s.cache != nil {
		if err := s.cache.Store(ctx, doc, expiresAt); err != nil {
			s.logger.WarnContext(ctx, "failed to cache key set", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *KeySource) install(keys map[string]*rsa.PublicKey, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
	s.expiresAt = expiresAt
	s.fetchedAt = s.now()
}

func (s *KeySource) fetch(ctx context.Context) ([]byte, time.Duration, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch signing keys: %w", err)
	}
	if err := httpclient.CheckResponse(resp, "jwks"); err != nil {
		return nil, 0, fmt.Errorf("fetch signing keys: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read signing keys: %w", err)
	}
	return doc, maxAge(resp.Header.Get("Cache-Control")), nil
}

// maxAge extracts max-age from a Cache-Control header, falling back to
// defaultKeyTTL when it is absent or malformed.
func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultKeyTTL
}

// parseKeySet decodes the RSA signing keys of a JWKS document. Keys of
// other types or uses are ignored.
func parseKeySet(doc []byte) (map[string]*rsa.PublicKey, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(doc, &set); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, ok := k.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if pub.N.Sign() <= 0 || pub.E < 3 {
			return nil, fmt.Errorf("key %q: invalid RSA parameters", k.KeyID)
		}
		keys[k.KeyID] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("key set has no usable RSA keys")
	}
	return keys, nil
}

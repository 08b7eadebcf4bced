package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edufelip/meer-api/internal/domain"
)

// clockSkew tolerates drift between our clock and the provider's.
const clockSkew = 5 * time.Minute

// KeyProvider resolves a signing key by id.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// VerifierOption customizes a provider verifier.
type VerifierOption func(*idTokenVerifier)

// WithIssuers replaces the trusted issuer set.
func WithIssuers(issuers ...string) VerifierOption {
	return func(v *idTokenVerifier) {
		v.issuers = make(map[string]struct{}, len(issuers))
		for _, iss := range issuers {
			v.issuers[iss] = struct{}{}
		}
	}
}

// WithVerifierClock overrides the time source used for expiry checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *idTokenVerifier) { v.now = now }
}

// idTokenVerifier checks RS256 OpenID Connect ID tokens against a
// provider's published keys.
type idTokenVerifier struct {
	clients ClientIDs
	issuers map[string]struct{}
	keys    KeyProvider
	now     func() time.Time
}

func newIDTokenVerifier(clients ClientIDs, keys KeyProvider, defaultIssuers []string, opts []VerifierOption) idTokenVerifier {
	v := idTokenVerifier{clients: clients, keys: keys, now: time.Now}
	WithIssuers(defaultIssuers...)(&v)
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// verify checks signature, audience, expiry, issuer and email, and returns
// the identity with the name falling back to the email.
func (v *idTokenVerifier) verify(ctx context.Context, idToken, platform string) (*domain.ExternalIdentity, error) {
	clientID, ok := v.clients.For(platform)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported client platform %q", domain.ErrInvalidExternalToken, platform)
	}
	if strings.TrimSpace(idToken) == "" {
		return nil, fmt.Errorf("%w: empty id token", domain.ErrInvalidExternalToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.now),
	)

	var claims idTokenClaims
	_, err := parser.ParseWithClaims(idToken, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidExternalToken, err)
	}

	if _, trusted := v.issuers[claims.Issuer]; !trusted {
		return nil, fmt.Errorf("%w: untrusted issuer %q", domain.ErrInvalidExternalToken, claims.Issuer)
	}

	email := domain.NormalizeEmail(claims.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: token has no email", domain.ErrInvalidExternalToken)
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = email
	}

	return &domain.ExternalIdentity{
		Email:    email,
		Name:     name,
		PhotoURL: claims.Picture,
	}, nil
}

package identity

import (
	"context"

	"github.com/edufelip/meer-api/internal/domain"
)

// DefaultGoogleIssuers are the issuers Google stamps on ID tokens.
var DefaultGoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// GoogleVerifier verifies Google Sign-In ID tokens.
type GoogleVerifier struct {
	v idTokenVerifier
}

// NewGoogleVerifier returns a verifier accepting tokens minted for clients.
func NewGoogleVerifier(clients ClientIDs, keys KeyProvider, opts ...VerifierOption) *GoogleVerifier {
	return &GoogleVerifier{v: newIDTokenVerifier(clients, keys, DefaultGoogleIssuers, opts)}
}

// Verify implements Verifier.
func (g *GoogleVerifier) Verify(ctx context.Context, idToken, platform string) (*domain.ExternalIdentity, error) {
	return g.v.verify(ctx, idToken, platform)
}

package identity

import (
	"context"

	"github.com/edufelip/meer-api/internal/domain"
)

// AppleKeysURL publishes the keys Apple signs identity tokens with.
const AppleKeysURL = "https://appleid.apple.com/auth/keys"

// AppleIssuer is the issuer of Sign in with Apple identity tokens.
const AppleIssuer = "https://appleid.apple.com"

// AppleVerifier verifies Sign in with Apple identity tokens. Apple sends the
// user's name only in the first authorization response and not in the token,
// so the identity name falls back to the email.
type AppleVerifier struct {
	v idTokenVerifier
}

// NewAppleVerifier returns a verifier accepting tokens whose audience is the
// bundle id configured for iOS.
func NewAppleVerifier(bundleID string, keys KeyProvider, opts ...VerifierOption) *AppleVerifier {
	return &AppleVerifier{v: newIDTokenVerifier(ClientIDs{IOS: bundleID}, keys, []string{AppleIssuer}, opts)}
}

// Verify implements Verifier.
func (a *AppleVerifier) Verify(ctx context.Context, idToken, platform string) (*domain.ExternalIdentity, error) {
	return a.v.verify(ctx, idToken, platform)
}

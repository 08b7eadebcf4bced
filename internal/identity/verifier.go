// Package identity verifies identity tokens issued by external providers.
package identity

import (
	"context"
	"strings"

	"github.com/edufelip/meer-api/internal/domain"
)

// Verifier checks a provider-issued identity token minted for the given
// client platform and returns the verified identity. Every failure wraps
// domain.ErrInvalidExternalToken.
type Verifier interface {
	Verify(ctx context.Context, idToken, platform string) (*domain.ExternalIdentity, error)
}

// Client platforms that can present an identity token.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

// ClientIDs holds the OAuth client id registered for each platform.
type ClientIDs struct {
	Android string
	IOS     string
	Web     string
}

// For returns the client id configured for platform, matched
// case-insensitively. Unknown platforms and blank ids report false.
func (c ClientIDs) For(platform string) (string, bool) {
	var id string
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case PlatformAndroid:
		id = c.Android
	case PlatformIOS:
		id = c.IOS
	case PlatformWeb:
		id = c.Web
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/edufelip/meer-api/internal/domain"
)

// Token kinds carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// minSecretLength is the shortest HS256 secret accepted.
const minSecretLength = 32

// Claims is the payload of Meer access and refresh tokens. The user id
// travels as the decimal "sub" claim; UserID is filled in on parse.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
	jwt.RegisteredClaims

	UserID int64 `json:"-"`
}

// JWTManager mints and validates HS256 tokens.
type JWTManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
	parser     *jwt.Parser
}

// Option customises a JWTManager.
type Option func(*JWTManager)

// WithIssuer sets the "iss" claim on minted tokens.
func WithIssuer(issuer string) Option {
	return func(m *JWTManager) { m.issuer = issuer }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *JWTManager) { m.now = now }
}

// NewJWTManager validates the signing configuration and returns a manager.
func NewJWTManager(secret string, accessTTL, refreshTTL time.Duration, opts ...Option) (*JWTManager, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", minSecretLength, len(secret))
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("jwt token lifetimes must be positive")
	}
	if refreshTTL <= accessTTL {
		return nil, fmt.Errorf("refresh token lifetime %s must exceed access token lifetime %s", refreshTTL, accessTTL)
	}

	m := &JWTManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }),
	)
	return m, nil
}

// AccessTTL is the lifetime of access tokens.
func (m *JWTManager) AccessTTL() time.Duration { return m.accessTTL }

// GenerateAccessToken mints a short-lived access token for user.
func (m *JWTManager) GenerateAccessToken(user *domain.User) (string, error) {
	return m.sign(user, TokenTypeAccess, m.accessTTL)
}

// GenerateRefreshToken mints a long-lived refresh token for user.
func (m *JWTManager) GenerateRefreshToken(user *domain.User) (string, error) {
	return m.sign(user, TokenTypeRefresh, m.refreshTTL)
}

func (m *JWTManager) sign(user *domain.User, kind string, ttl time.Duration) (string, error) {
	if user == nil || user.ID <= 0 {
		return "", fmt.Errorf("sign %s token: user has no id", kind)
	}

	now := m.now().UTC()
	claims := &Claims{
		Email: user.Email,
		Name:  user.DisplayName,
		Type:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// ValidateAccessToken verifies an access token. Tokens without a "type"
// claim are accepted as access tokens; refresh tokens are rejected.
func (m *JWTManager) ValidateAccessToken(token string) (*Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.Type != "" && claims.Type != TokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", domain.ErrInvalidToken, claims.Type)
	}
	return claims, nil
}

// ValidateRefreshToken verifies a refresh token.
func (m *JWTManager) ValidateRefreshToken(token string) (*Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRefreshToken, err)
	}
	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unexpected token type %q", domain.ErrInvalidRefreshToken, claims.Type)
	}
	return claims, nil
}

func (m *JWTManager) parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, errors.New("empty token")
	}

	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	// iat is required and validity is exactly iat <= now < exp.
	now := m.now().UTC()
	if claims.IssuedAt == nil || now.Before(claims.IssuedAt.Time) {
		return nil, jwt.ErrTokenUsedBeforeIssued
	}
	if !now.Before(claims.ExpiresAt.Time) {
		return nil, jwt.ErrTokenExpired
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("subject %q is not a user id", claims.Subject)
	}
	claims.UserID = id
	return claims, nil
}

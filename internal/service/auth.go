package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/edufelip/meer-api/internal/auth"
	"github.com/edufelip/meer-api/internal/domain"
	"github.com/edufelip/meer-api/internal/event"
	"github.com/edufelip/meer-api/internal/identity"
	"github.com/edufelip/meer-api/internal/repository"
	apperrors "github.com/edufelip/meer-api/pkg/errors"
)

// maxPasswordBytes is the longest password bcrypt can hash.
const maxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// TokenIssuer mints and parses application tokens.
type TokenIssuer interface {
	GenerateAccessToken(user *domain.User) (string, error)
	GenerateRefreshToken(user *domain.User) (string, error)
	ValidateRefreshToken(token string) (*auth.Claims, error)
}

// EventPublisher announces account lifecycle events.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User, provider string) error
	PublishPasswordResetRequested(ctx context.Context, user *domain.User) error
}

// AuthService implements the signup, login and token flows.
type AuthService struct {
	users  repository.UserRepository
	hasher PasswordHasher
	tokens TokenIssuer
	google identity.Verifier
	apple  identity.Verifier
	events EventPublisher
	logger *slog.Logger

	// decoyOnce guards decoyHash, which Login verifies against for unknown
	// emails so both failure paths pay the same bcrypt cost.
	decoyOnce sync.Once
	decoyHash string
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens TokenIssuer,
	google identity.Verifier,
	apple identity.Verifier,
	events EventPublisher,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		google: google,
		apple:  apple,
		events: events,
		logger: logger,
	}
}

// SignupInput holds the parameters for creating a password account.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput holds the parameters for password login.
type LoginInput struct {
	Email    string
	Password string
}

// GoogleLoginInput holds a Google ID token and the platform it was minted for.
type GoogleLoginInput struct {
	IDToken  string
	Platform string
}

// AppleLoginInput holds a Sign in with Apple identity token and the
// platform it was minted for.
type AppleLoginInput struct {
	IDToken  string
	Platform string
}

// Signup creates a password account and signs the new user in.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (result *domain.AuthResult, err error) {
	defer func() { recordAttempt(flowSignup, err) }()

	name := strings.TrimSpace(input.Name)
	email := domain.NormalizeEmail(input.Email)
	switch {
	case name == "":
		return nil, apperrors.InvalidInput("name is required")
	case email == "":
		return nil, apperrors.InvalidInput("email is required")
	case input.Password == "":
		return nil, apperrors.InvalidInput("password is required")
	case len(input.Password) > maxPasswordBytes:
		return nil, apperrors.InvalidInput("password must be at most 72 bytes")
	}

	_, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, domain.ErrEmailAlreadyRegistered
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("look up user: %w", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{Email: email, DisplayName: name, PasswordHash: hash}
	if err = s.users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent signup for the same address.
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, domain.ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	result, err = s.issue(user)
	if err != nil {
		return nil, err
	}

	s.publishRegistered(ctx, user, event.ProviderPassword)
	s.logger.InfoContext(ctx, "user signed up", slog.Int64("user_id", user.ID))
	return result, nil
}

// Login authenticates a password account. Unknown emails and wrong
// passwords fail identically.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (result *domain.AuthResult, err error) {
	defer func() { recordAttempt(flowLogin, err) }()

	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.hasher.Verify(input.Password, s.decoy())
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	result, err = s.issue(user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", slog.Int64("user_id", user.ID))
	return result, nil
}

// GoogleLogin signs in with a Google ID token, creating the account on first
// use. Accounts created here get a random password nobody knows.
func (s *AuthService) GoogleLogin(ctx context.Context, input GoogleLoginInput) (result *domain.AuthResult, err error) {
	defer func() { recordAttempt(flowGoogle, err) }()
	return s.externalLogin(ctx, s.google, event.ProviderGoogle, input.IDToken, input.Platform)
}

// AppleLogin signs in with a Sign in with Apple identity token, creating the
// account on first use like GoogleLogin.
func (s *AuthService) AppleLogin(ctx context.Context, input AppleLoginInput) (result *domain.AuthResult, err error) {
	defer func() { recordAttempt(flowApple, err) }()
	return s.externalLogin(ctx, s.apple, event.ProviderApple, input.IDToken, input.Platform)
}

func (s *AuthService) externalLogin(
	ctx context.Context,
	verifier identity.Verifier,
	provider, idToken, platform string,
) (*domain.AuthResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, apperrors.InvalidInput("idToken is required")
	}

	ident, err := verifier.Verify(ctx, idToken, platform)
	if err != nil {
		s.logger.DebugContext(ctx, "identity token rejected",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrInvalidExternalToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidExternalToken, err)
	}

	user, created, err := s.findOrCreate(ctx, ident)
	if err != nil {
		return nil, err
	}

	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	if created {
		s.publishRegistered(ctx, user, provider)
	}
	s.logger.InfoContext(ctx, "user logged in with identity provider",
		slog.Int64("user_id", user.ID),
		slog.String("provider", provider),
		slog.Bool("created", created),
	)
	return result, nil
}

func (s *AuthService) findOrCreate(ctx context.Context, ident *domain.ExternalIdentity) (*domain.User, bool, error) {
	email := domain.NormalizeEmail(ident.Email)

	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, fmt.Errorf("look up user: %w", err)
	}

	hash, err := s.hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, false, err
	}

	user = &domain.User{
		Email:        email,
		DisplayName:  ident.Name,
		PhotoURL:     ident.PhotoURL,
		PasswordHash: hash,
	}
	err = s.users.Create(ctx, user)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, apperrors.ErrAlreadyExists) {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	// A concurrent first login created the account; use it.
	user, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("look up user after conflict: %w", err)
	}
	return user, false, nil
}

// RefreshToken exchanges a refresh token for a new token pair. The old
// refresh token stays valid until it expires.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (result *domain.AuthResult, err error) {
	defer func() { recordAttempt(flowRefresh, err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperrors.InvalidInput("refreshToken is required")
	}

	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRefreshToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRefreshToken, err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	result, err = s.issue(user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tokens refreshed", slog.Int64("user_id", user.ID))
	return result, nil
}

// ForgotPassword requests a reset email for the account registered under
// email. Unknown addresses succeed silently so callers cannot learn which
// emails have accounts.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { recordAttempt(flowForgotPassword, err) }()

	email = domain.NormalizeEmail(email)
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("look up user: %w", err)
	}

	if err := s.events.PublishPasswordResetRequested(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.password_reset_requested event",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.logger.InfoContext(ctx, "password reset requested", slog.Int64("user_id", user.ID))
	return nil
}

// CurrentUser returns the summary of the user an access token was issued
// to. A token for a deleted account is treated as invalid.
func (s *AuthService) CurrentUser(ctx context.Context, userID int64) (*domain.AuthenticatedUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	summary := user.Summary()
	return &summary, nil
}

// decoy returns a hash of a random password, computed once with the
// configured cost.
func (s *AuthService) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Error("failed to build decoy password hash", slog.String("error", err.Error()))
			return
		}
		s.decoyHash = hash
	})
	return s.decoyHash
}

func (s *AuthService) issue(user *domain.User) (*domain.AuthResult, error) {
	access, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := s.tokens.GenerateRefreshToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	return &domain.AuthResult{Token: access, RefreshToken: refresh, User: user.Summary()}, nil
}

// publishRegistered is best effort; the account already exists.
func (s *AuthService) publishRegistered(ctx context.Context, user *domain.User, provider string) {
	if err := s.events.PublishUserRegistered(ctx, user, provider); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/edufelip/meer-api/internal/domain"
	"github.com/edufelip/meer-api/internal/service"
	"github.com/edufelip/meer-api/pkg/httputil"
	"github.com/edufelip/meer-api/pkg/middleware"
	"github.com/edufelip/meer-api/pkg/validator"
)

// Authenticator is the use-case surface the auth endpoints depend on.
type Authenticator interface {
	Signup(ctx context.Context, input service.SignupInput) (*domain.AuthResult, error)
	Login(ctx context.Context, input service.LoginInput) (*domain.AuthResult, error)
	GoogleLogin(ctx context.Context, input service.GoogleLoginInput) (*domain.AuthResult, error)
	AppleLogin(ctx context.Context, input service.AppleLoginInput) (*domain.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	RefreshToken(ctx context.Context, refreshToken string) (*domain.AuthResult, error)
	CurrentUser(ctx context.Context, userID int64) (*domain.AuthenticatedUser, error)
}

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service Authenticator
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// SignupRequest is the JSON request body for account creation.
type SignupRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=72"`
}

// LoginRequest is the JSON request body for password login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=320"`
	Password string `json:"password" validate:"required"`
}

// GoogleLoginRequest is the JSON request body for Google sign-in.
type GoogleLoginRequest struct {
	Provider string `json:"provider" validate:"required"`
	IDToken  string `json:"idToken" validate:"required"`
	Client   string `json:"client" validate:"required"`
}

// AppleLoginRequest is the JSON request body for Sign in with Apple. The
// authorization code is accepted for client compatibility but not redeemed.
type AppleLoginRequest struct {
	Provider          string `json:"provider" validate:"required"`
	IDToken           string `json:"idToken" validate:"required"`
	AuthorizationCode string `json:"authorizationCode"`
	Client            string `json:"client" validate:"required"`
}

// ForgotPasswordRequest is the JSON request body for a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// MessageResponse carries a human-readable acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// RefreshTokenRequest is the JSON request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// MeResponse is the payload of GET /auth/me.
type MeResponse struct {
	User *domain.AuthenticatedUser `json:"user"`
}

// --- Handlers ---

// Signup handles POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.Signup(r.Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// GoogleLogin handles POST /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if !strings.EqualFold(req.Provider, "google") {
		httputil.WriteError(w, r, domain.ErrInvalidExternalToken, h.logger)
		return
	}

	result, err := h.service.GoogleLogin(r.Context(), service.GoogleLoginInput{
		IDToken:  req.IDToken,
		Platform: req.Client,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// AppleLogin handles POST /auth/apple
func (h *AuthHandler) AppleLogin(w http.ResponseWriter, r *http.Request) {
	var req AppleLoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if !strings.EqualFold(req.Provider, "apple") {
		httputil.WriteError(w, r, domain.ErrInvalidExternalToken, h.logger)
		return
	}

	result, err := h.service.AppleLogin(r.Context(), service.AppleLoginInput{
		IDToken:  req.IDToken,
		Platform: req.Client,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// ForgotPassword handles POST /auth/forgot-password. The response is the
// same whether or not the email has an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: MessageResponse{Message: "Reset email sent"}})
}

// RefreshToken handles POST /auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Me handles GET /auth/me. The access token has already been validated by
// middleware.Auth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: MeResponse{User: user}})
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/edufelip/meer-api/pkg/errors"
	"github.com/edufelip/meer-api/pkg/httputil"
	"github.com/edufelip/meer-api/pkg/logger"
)

type contextKeyType string

const claimsKey contextKeyType = "auth_claims"

// Claims is the authenticated principal extracted from a bearer token.
type Claims struct {
	UserID int64
	Email  string
	Name   string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// AuthOption customizes Auth.
type AuthOption func(*authConfig)

type authConfig struct {
	missingToken error
}

// WithMissingTokenError answers requests without a bearer token with err
// instead of the generic UNAUTHORIZED body. err must be a 401 AppError.
func WithMissingTokenError(err error) AuthOption {
	return func(c *authConfig) { c.missingToken = err }
}

// Auth validates the bearer token on every request and stores the claims in
// the request context. Validation failures are answered with 401; when the
// validator returns an AppError its code is kept.
func Auth(validate TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	var cfg authConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeAuthError(w, r, cfg.missingToken)
				return
			}

			claims, err := validate(token)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			userID := strconv.FormatInt(claims.UserID, 10)
			ctx = logger.WithUserID(ctx, userID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClaimsFromContext returns the claims stored by Auth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// UserIDFromContext returns the authenticated user id, or 0 when the request
// is anonymous.
func UserIDFromContext(ctx context.Context) int64 {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.UserID
	}
	return 0
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if err != nil && errors.As(err, &appErr) && appErr.Status == http.StatusUnauthorized {
		httputil.WriteError(w, r, appErr, nil)
		return
	}
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
		Error: &httputil.ErrorResponse{
			Code:      "UNAUTHORIZED",
			Message:   "missing or invalid bearer token",
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}

package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edufelip/meer-api/internal/auth"
	"github.com/edufelip/meer-api/internal/domain"
	"github.com/edufelip/meer-api/pkg/health"
	"github.com/edufelip/meer-api/pkg/middleware"
)

// ServiceName labels metrics and spans emitted by the HTTP layer.
const ServiceName = "meer-auth"

// AccessTokenParser validates access tokens.
type AccessTokenParser interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// AccessTokenValidator adapts an AccessTokenParser to middleware.Auth.
func AccessTokenValidator(p AccessTokenParser) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := p.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID: claims.UserID,
			Email:  claims.Email,
			Name:   claims.Name,
		}, nil
	}
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	authService Authenticator,
	tokens AccessTokenParser,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig middleware.CORSConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.CORS(corsConfig))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(authService, logger)
	r.Route("/auth", func(r chi.Router) {
		r.With(ContentTypeJSON).Post("/signup", authHandler.Signup)
		r.With(ContentTypeJSON).Post("/login", authHandler.Login)
		r.With(ContentTypeJSON).Post("/google", authHandler.GoogleLogin)
		r.With(ContentTypeJSON).Post("/apple", authHandler.AppleLogin)
		r.With(ContentTypeJSON).Post("/refresh", authHandler.RefreshToken)
		r.With(ContentTypeJSON).Post("/forgot-password", authHandler.ForgotPassword)

		requireAccess := middleware.Auth(AccessTokenValidator(tokens),
			middleware.WithMissingTokenError(domain.ErrInvalidToken))
		r.With(requireAccess).Get("/me", authHandler.Me)
	})

	return r
}

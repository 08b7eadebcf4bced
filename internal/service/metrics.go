package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/edufelip/meer-api/pkg/errors"
)

// Authentication flows.
const (
	flowSignup         = "signup"
	flowLogin          = "login"
	flowGoogle         = "google"
	flowApple          = "apple"
	flowRefresh        = "refresh"
	flowForgotPassword = "forgot_password"
)

var authAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "meer_auth_attempts_total",
		Help: "Authentication attempts by flow and outcome",
	},
	[]string{"flow", "outcome"},
)

// recordAttempt counts one attempt. Outcome is "success", "rejected" for
// errors the caller can correct, or "error" for everything else.
func recordAttempt(flow string, err error) {
	authAttemptsTotal.WithLabelValues(flow, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status < 500 {
		return "rejected"
	}
	return "error"
}

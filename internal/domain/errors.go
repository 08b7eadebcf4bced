package domain

import (
	"net/http"

	apperrors "github.com/edufelip/meer-api/pkg/errors"
)

// Authentication failures. Each one matches both itself and its generic
// category (apperrors.ErrUnauthorized or apperrors.ErrConflict) with errors.Is.
var (
	ErrInvalidCredentials = apperrors.New("INVALID_CREDENTIALS",
		"invalid email or password", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	ErrEmailAlreadyRegistered = apperrors.New("EMAIL_ALREADY_REGISTERED",
		"email is already registered", http.StatusConflict, apperrors.ErrConflict)

	ErrInvalidToken = apperrors.New("INVALID_TOKEN",
		"invalid or expired token", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	ErrInvalidRefreshToken = apperrors.New("INVALID_REFRESH_TOKEN",
		"invalid or expired refresh token", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	ErrInvalidExternalToken = apperrors.New("INVALID_EXTERNAL_TOKEN",
		"identity token could not be verified", http.StatusUnauthorized, apperrors.ErrUnauthorized)
)

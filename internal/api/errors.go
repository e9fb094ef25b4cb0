package api

import (
	"errors"
	"net/http"

	"proctordraw/internal/auth"
	"proctordraw/internal/export"
	"proctordraw/internal/ratelimit"
	"proctordraw/pkg/types"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidSessionConfig),
		errors.Is(err, types.ErrInvalidClaimant):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNoActiveSession),
		errors.Is(err, types.ErrNotDrawn):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyDrawn),
		errors.Is(err, types.ErrNoSlotsAvailable),
		errors.Is(err, types.ErrDrawConflict),
		errors.Is(err, export.ErrNothingToExport):
		return http.StatusConflict
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

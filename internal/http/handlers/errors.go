// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them rather
// than on messages. Service sentinels are translated by failErr:
//
//	services.ErrValidation → 400 validation_failed
//	services.ErrPermission → 403 forbidden (401 unauthorized with no identity)
//	services.ErrNotFound   → 404 not_found
//	services.ErrConflict   → 409 conflict
//	context cancellation   → 503 unavailable
//	anything else          → 500 internal_error
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "conflict: vote"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-qa-backend/internal/http/middleware"
	"github.com/tbourn/go-qa-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// statusFor maps a service error onto an HTTP status and code. anonymous
// turns a permission failure into 401 since there is nobody to forbid.
func statusFor(err error, anonymous bool) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, services.ErrPermission):
		if anonymous {
			return http.StatusUnauthorized, ErrCodeUnauthorized
		}
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// failErr aborts with the status and code matching err. Internal errors are
// logged in full but answered with a generic message.
func failErr(c *gin.Context, err error) {
	status, code := statusFor(err, middleware.UserID(c) == "")
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
		msg = "internal error"
	case http.StatusServiceUnavailable:
		// The caller went away or the server is stopping; nothing was written.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("request abandoned")
		abort(c, status, code, "request cancelled")
		return
	}
	fail(c, status, code, msg)
}

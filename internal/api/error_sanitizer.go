package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/emailfinder/internal/pkg/httputil"
	"github.com/ignite/emailfinder/internal/pkg/logger"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// statusFor maps an error classification to an HTTP status.
func statusFor(kind contacts.Kind) int {
	switch kind {
	case contacts.KindInvalidInput:
		return http.StatusBadRequest
	case contacts.KindNotFound:
		return http.StatusNotFound
	case contacts.KindAlreadyExists, contacts.KindDuplicateKey, contacts.KindBusy:
		return http.StatusConflict
	case contacts.KindIndexUnavailable:
		return http.StatusServiceUnavailable
	case contacts.KindPartialFailure:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes the error envelope for err. Classified errors
// keep their message and details; anything else is logged and answered
// with a generic 500 so store or index internals never reach the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := contacts.KindOf(err)
	status := statusFor(kind)

	if kind == "" {
		logger.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httputil.Error(w, status, "internal", safeErrorMessage(status, err), nil)
		return
	}

	msg := err.Error()
	var ce *contacts.Error
	if errors.As(err, &ce) && ce.Msg != "" {
		msg = ce.Msg
	}
	if status >= 500 {
		logger.Warn("api: dependency failure", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	httputil.Error(w, status, string(kind), msg, contacts.DetailsOf(err))
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}
	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())
	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "truncate") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"

	default:
		return "An internal error occurred"
	}
}

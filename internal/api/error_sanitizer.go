package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mckuadrat/wa-broadcast/internal/pkg/httputil"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/service/broadcast"
)

// =============================================================================
// ERROR SANITIZER
// Internal errors (database details, gateway tokens, stack traces) never
// reach API consumers. 5xx answers carry a generic message; the full error
// is logged server-side.
// =============================================================================

// respondServiceError maps an orchestrator error to an HTTP answer.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case broadcast.IsValidation(err):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, broadcast.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case broadcast.IsConfiguration(err):
		logger.Error("configuration error", "error", err)
		httputil.ErrorCode(w, http.StatusInternalServerError, "not_configured", err.Error())
	default:
		respondSafeError(w, http.StatusInternalServerError, err)
	}
}

// respondSafeError logs the internal error and sends a sanitized JSON error.
func respondSafeError(w http.ResponseWriter, code int, internalErr error) {
	msg := safeErrorMessage(code, internalErr)
	if internalErr != nil {
		logger.Error("request failed", "status", code, "public", msg, "error", internalErr)
	}
	httputil.ErrorCode(w, code, "internal_error", msg)
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// 4xx errors are about user input and are returned as-is.
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
		strings.Contains(errStr, "database"):
		return "A database error occurred"

	case strings.Contains(errStr, "gateway"):
		return "Messaging gateway error"

	default:
		return "An internal error occurred"
	}
}

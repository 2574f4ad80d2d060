// Package recovery classifies sync failures and selects recovery strategies.
//
// Transient failures (rate limits, network) are retried or resumed; permanent
// failures (bad credential, invalid data) are surfaced for operator or caller
// action. Database failures abort the run since the persistence layer itself
// can no longer be trusted mid-run.
package recovery

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"crmsync/internal/client/pipedrive"
)

type ErrorType string

const (
	ErrorRateLimit      ErrorType = "rate_limit"
	ErrorAuthentication ErrorType = "authentication"
	ErrorNetwork        ErrorType = "network"
	ErrorDatabase       ErrorType = "database"
	ErrorValidation     ErrorType = "validation"
	ErrorUnknown        ErrorType = "unknown"
)

const DefaultRetryAfter = 5 * time.Second

type ClassifiedError struct {
	Type        ErrorType
	Recoverable bool
	RetryAfter  time.Duration
}

// Classify maps a raw failure onto the error taxonomy. A structured
// *pipedrive.APIError is honored first; message sniffing is the fallback for
// transport-level failures the client does not originate itself.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Type: ErrorUnknown, Recoverable: true}
	}

	var apiErr *pipedrive.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests:
			retryAfter := apiErr.RetryAfter
			if retryAfter <= 0 {
				retryAfter = DefaultRetryAfter
			}
			return ClassifiedError{Type: ErrorRateLimit, Recoverable: true, RetryAfter: retryAfter}
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassifiedError{Type: ErrorAuthentication, Recoverable: false}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return ClassifiedError{Type: ErrorValidation, Recoverable: false}
		}
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "rate limit") || strings.Contains(message, "too many requests"):
		return ClassifiedError{Type: ErrorRateLimit, Recoverable: true, RetryAfter: DefaultRetryAfter}
	case strings.Contains(message, "api key") ||
		strings.Contains(message, "api token") ||
		strings.Contains(message, "unauthorized") ||
		strings.Contains(message, "invalid token") ||
		strings.Contains(message, "authentication"):
		return ClassifiedError{Type: ErrorAuthentication, Recoverable: false}
	case strings.Contains(message, "timed out") ||
		strings.Contains(message, "timeout") ||
		strings.Contains(message, "connection refused") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "no such host") ||
		strings.Contains(message, "network"):
		return ClassifiedError{Type: ErrorNetwork, Recoverable: true}
	case strings.Contains(message, "database") ||
		strings.Contains(message, "sql") ||
		strings.Contains(message, "constraint") ||
		strings.Contains(message, "deadlock"):
		return ClassifiedError{Type: ErrorDatabase, Recoverable: true}
	case strings.Contains(message, "validation") ||
		strings.Contains(message, "invalid email") ||
		strings.Contains(message, "malformed") ||
		strings.Contains(message, "invalid format") ||
		strings.Contains(message, "is required") ||
		strings.Contains(message, "unsupported"):
		return ClassifiedError{Type: ErrorValidation, Recoverable: false}
	default:
		// Conservative default: unrecognized failures are usually transient,
		// so retry rather than abandon.
		return ClassifiedError{Type: ErrorUnknown, Recoverable: true}
	}
}

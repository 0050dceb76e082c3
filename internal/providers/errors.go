package providers

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModelUnavailable is returned by the router when the primary model and
// every fallback failed.
var ErrModelUnavailable = errors.New("no model available")

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, truncate(e.Body, 200))
}

// ErrorKind buckets a provider or tool failure for observation and messaging.
type ErrorKind string

const (
	KindRetryable       ErrorKind = "retryable"
	KindAuth            ErrorKind = "auth_error"
	KindInvalidParams   ErrorKind = "invalid_params"
	KindRateLimited     ErrorKind = "rate_limited"
	KindContextOverflow ErrorKind = "context_overflow"
	KindFatal           ErrorKind = "fatal"
)

// Classify maps an error to its kind: 429/5xx/connection → retryable (429
// specifically rate_limited), 401/403/permission → auth, 400/validation →
// invalid_params, context-length mentions → context_overflow, else fatal.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == 429:
			return KindRateLimited
		case se.Status == 401 || se.Status == 403:
			return KindAuth
		case se.Status == 400:
			if strings.Contains(strings.ToLower(se.Body), "context length") ||
				strings.Contains(strings.ToLower(se.Body), "maximum context") {
				return KindContextOverflow
			}
			return KindInvalidParams
		case se.Status >= 500:
			return KindRetryable
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporar") || strings.Contains(msg, "eof"):
		return KindRetryable
	case strings.Contains(msg, "permission") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden"):
		return KindAuth
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return KindInvalidParams
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context window"):
		return KindContextOverflow
	}
	return KindFatal
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Failure classes reported by the extraction service. A StatusError unwraps
// to the class of its status code.
var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrInterpretationPending = errors.New("interpretation not ready")
	ErrChangesRejected       = errors.New("changes rejected")
	ErrUnauthorized          = errors.New("unauthorized")
)

// StatusError is a non-2xx answer from the extraction service.
type StatusError struct {
	StatusCode int
	Body       string
	// RetryAfter is the delay the service asked for, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Unwrap returns the failure class of the status, or nil.
func (e *StatusError) Unwrap() error {
	return ClassifyStatus(e.StatusCode)
}

// ClassifyStatus maps an extraction service status code to its failure
// class. Statuses without a class return nil.
func ClassifyStatus(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound, http.StatusGone:
		return ErrDocumentNotFound
	case http.StatusTooEarly, http.StatusLocked:
		// The document is still being interpreted.
		return ErrInterpretationPending
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrChangesRejected
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return nil
	}
}

// TransientError marks an extraction service failure that is safe to retry,
// such as a 429, a 5xx, a document still being interpreted or a network
// timeout.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with an optional HTTP status code.
// The Retry-After hint of a StatusError is carried over.
func NewTransientError(err error, statusCode int) *TransientError {
	te := &TransientError{Err: err, StatusCode: statusCode}
	var se *StatusError
	if errors.As(err, &se) {
		te.RetryAfter = se.RetryAfter
	}
	return te
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err, or any error in its chain, is worth
// retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an extraction service status is
// worth retrying: throttling, gateway and server failures, and documents
// whose interpretation has not finished.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusTooEarly,
		http.StatusLocked,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the Retry-After hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Unparseable or past values yield zero.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

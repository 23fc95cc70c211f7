package notion

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/jmgilman/go/errors"
)

// StatusError is returned for a non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d: %s", e.Status, e.Body)
}

// ErrorClass decides the backoff base applied before the next attempt.
type ErrorClass int

const (
	// ClassApplication covers non-2xx responses and malformed payloads.
	ClassApplication ErrorClass = iota
	// ClassConnection covers transport failures: resets, refusals, timeouts,
	// DNS failures and truncated responses.
	ClassConnection
)

func (c ErrorClass) String() string {
	if c == ClassConnection {
		return "connection"
	}
	return "application"
}

// Classify reports the class of an attempt error.
func Classify(err error) ErrorClass {
	if errors.GetCode(err) == errors.CodeNetwork || isConnectionError(err) {
		return ClassConnection
	}
	return ClassApplication
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var status *StatusError
	if stderrors.As(err, &status) {
		return false
	}
	if stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNABORTED) ||
		stderrors.Is(err, syscall.EPIPE) ||
		stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func codeForStatus(status int) errors.ErrorCode {
	switch {
	case status == http.StatusNotFound:
		return errors.CodeNotFound
	case status == http.StatusUnauthorized:
		return errors.CodeUnauthorized
	case status == http.StatusForbidden:
		return errors.CodeForbidden
	case status == http.StatusTooManyRequests:
		return errors.CodeRateLimit
	case status == http.StatusConflict:
		return errors.CodeConflict
	case status >= http.StatusInternalServerError:
		return errors.CodeUnavailable
	default:
		return errors.CodeUnknown
	}
}

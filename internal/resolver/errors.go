package resolver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrTransient marks errors that a single delayed retry may cure.
var ErrTransient = errors.New("transient network error")

// TransientError wraps a connection-level fault or a retryable HTTP status.
type TransientError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient failure fetching %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transient failure fetching %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransient) hold for every TransientError.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// StatusError reports an HTTP status a resolver cannot interpret.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// IsTransient reports whether err is worth one delayed retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// TransientStatus reports whether an HTTP status should be retried.
func TransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Classify wraps fetch errors that IsTransient accepts into a TransientError
// and leaves every other error untouched.
func Classify(url string, err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	if IsTransient(err) {
		return &TransientError{URL: url, Err: err}
	}
	return err
}

// CheckStatus converts a retryable status into a TransientError and any
// other status outside 2xx, except those listed in allow, into a StatusError.
func CheckStatus(resp Response, allow ...int) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	for _, a := range allow {
		if code == a {
			return nil
		}
	}
	if TransientStatus(code) {
		return &TransientError{URL: resp.URL, Status: code}
	}
	return &StatusError{URL: resp.URL, Status: code}
}

package pbconn

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidJSON       = errors.New("invalid JSON response")
	ErrMissingToken      = errors.New("auth response missing token")
	ErrUnsupportedScheme = errors.New("endpoint scheme must be http or https")
	// ErrResponseTooLarge comes with the truncated Result.
	ErrResponseTooLarge = errors.New("response body exceeds limit")
)

// HTTPStatusError is an HTTP-level failure. It is never retried.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
}

func IsNotFound(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

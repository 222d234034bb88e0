package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrMissingRemoteID indicates an install has no remote identifier to address.
var ErrMissingRemoteID = errors.New("install has no remote id")

// StatusError reports a non-2xx registry response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry %s returned %d", e.Op, e.Code)
	}
	return fmt.Sprintf("registry %s returned %d: %s", e.Op, e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying on the next trigger:
// network failures, timeouts, 5xx and 429 responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError || statusErr.Code == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsNotFound reports whether the registry answered 404.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}

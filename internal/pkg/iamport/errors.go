package iamport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// ErrTransient marks failures worth retrying: timeouts and network errors.
var ErrTransient = errors.New("iamport transient error")

// APIError is a non-2xx reply from the gateway.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("iamport %s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether the gateway itself was unavailable.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func classifyRequestError(ctx context.Context, op string, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %s timeout: %w", ErrTransient, op, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %s network error: %w", ErrTransient, op, err)
	}
	return fmt.Errorf("iamport %s request error: %w", op, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}

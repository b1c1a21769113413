package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/stywzn/vuln-sentinel/internal/coordinator"
	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/session"
	"github.com/stywzn/vuln-sentinel/internal/store"
)

// statusClientClosed is the de facto status for a request the client abandoned.
const statusClientClosed = 499

// statusFor maps a domain error to an HTTP status. Order matters: a fetch
// failure caused by a transport error is still reported as a bad gateway.
// Persistence errors and anything unrecognized are a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, coordinator.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrEngineUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, coordinator.ErrStartFailed):
		return http.StatusInternalServerError
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrBackend classifica falhas ao encaminhar uma requisição já admitida.
var ErrBackend = errors.New("backend request failed")

// BackendErrorHandler é o ErrorHandler do httputil.ReverseProxy: 504 quando o
// timeout de backend estourou, 502 para qualquer outra falha.
func BackendErrorHandler(logger *slog.Logger) func(http.ResponseWriter, *http.Request, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}

		logger.Warn("forward failed",
			"request_id", w.Header().Get(requestIDHeader),
			"path", r.URL.Path,
			"status", status,
			"error", fmt.Errorf("%w: %v", ErrBackend, err))

		http.Error(w, http.StatusText(status), status)
	}
}

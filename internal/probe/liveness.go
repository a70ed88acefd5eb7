package probe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/stackctl/internal/service"
)

// DefaultLivenessTimeout bounds a single health check.
const DefaultLivenessTimeout = 3 * time.Second

// Liveness issues bounded-timeout health checks against a service's
// health path. Liveness is a boolean: network errors, timeouts and
// non-2xx responses all mean "not alive" and are never surfaced as
// distinct errors to callers.
type Liveness struct {
	client *http.Client
	logger *slog.Logger
}

// NewLiveness returns a Liveness with the given per-request timeout.
// A non-positive timeout selects DefaultLivenessTimeout.
func NewLiveness(timeout time.Duration, logger *slog.Logger) *Liveness {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Liveness{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// IsAlive reports whether the service answers its health path with a 2xx.
func (l *Liveness) IsAlive(ctx context.Context, svc service.Descriptor) bool {
	url := svc.BaseURL() + svc.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Debug("health check failed", "service", svc.Name, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

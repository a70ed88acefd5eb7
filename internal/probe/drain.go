package probe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/stackctl/internal/service"
)

// DefaultDrainTimeout bounds the single drain request.
const DefaultDrainTimeout = 5 * time.Second

// ErrUnreachable means the drain endpoint could not be reached or did
// not acknowledge. The caller must fall back to forced termination;
// there is no retry, because a backend that cannot accept a drain
// request is assumed not to be in a position to drain at all.
var ErrUnreachable = errors.New("drain endpoint unreachable")

// Ack is the backend's acknowledgement of a drain request. Status and
// Message are opaque and shown to the operator as-is.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Requester sends the one-shot "begin graceful shutdown" request.
type Requester struct {
	client *http.Client
	logger *slog.Logger
}

// NewRequester returns a Requester with the given per-request timeout.
// A non-positive timeout selects DefaultDrainTimeout.
func NewRequester(timeout time.Duration, logger *slog.Logger) *Requester {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// RequestDrain POSTs to the service's drain path. On any failure
// (timeout, connection error, non-2xx status) it returns ErrUnreachable.
// Only call this when the service passed a liveness check.
func (r *Requester) RequestDrain(ctx context.Context, svc service.Descriptor) (Ack, error) {
	url := svc.BaseURL() + svc.DrainPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Ack{}, ErrUnreachable
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("drain request failed", "service", svc.Name, "error", err)
		return Ack{}, ErrUnreachable
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Ack{}, ErrUnreachable
	}
	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		// A 2xx with an unparseable body still counts as acknowledged.
		return Ack{Status: "acknowledged"}, nil
	}
	return ack, nil
}

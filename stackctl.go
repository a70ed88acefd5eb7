package stackctl

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/drain"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/probe"
	iserver "github.com/loykin/stackctl/internal/server"
	"github.com/loykin/stackctl/internal/service"
	"github.com/loykin/stackctl/internal/store"
	storefactory "github.com/loykin/stackctl/internal/store/factory"
	"github.com/loykin/stackctl/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Descriptor = service.Descriptor

type DrainConfig = drain.Config

type DrainOutcome = drain.Outcome

type Ack = probe.Ack

type StopResult = supervisor.StopResult

type ServiceStatus = supervisor.ServiceStatus

type HistorySink = history.Sink

type StoreConfig = store.Config

// ErrStopInProgress re-exports the concurrent-stop rejection.
var ErrStopInProgress = supervisor.ErrStopInProgress

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// Config assembles an embedded Supervisor.
type Config = supervisor.Config

func New(c Config) *Supervisor { return &Supervisor{inner: supervisor.New(c)} }

func (s *Supervisor) Start(ctx context.Context) ([]supervisor.StartedService, error) {
	return s.inner.Start(ctx)
}

// Stop stops both services; with graceful set, the backend is asked to
// drain first and the call blocks until completion or timeout.
func (s *Supervisor) Stop(ctx context.Context, graceful bool) (*StopResult, error) {
	return s.inner.Stop(ctx, graceful)
}

func (s *Supervisor) Status(ctx context.Context) []ServiceStatus { return s.inner.Status(ctx) }

// DefaultBackend returns the stock backend descriptor (port 8000).
func DefaultBackend() Descriptor { return service.DefaultBackend() }

// DefaultFrontend returns the stock frontend descriptor (port 8080).
func DefaultFrontend() Descriptor { return service.DefaultFrontend() }

// LoadConfig reads the TOML config file at path.
func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// NewStore creates a recorded-handle store from config (sqlite default).
func NewStore(c StoreConfig) (store.Store, error) { return storefactory.New(c) }

// NewFrontendServer starts the static frontend server on addr.
func NewFrontendServer(addr, dir string) *http.Server { return iserver.NewServer(addr, dir) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no handle is recorded for a service name.
// Callers treat it as "nothing recorded", never as a failure.
var ErrNotFound = errors.New("no recorded handle")

// Record is the persisted process handle for one managed service:
// written at start, read and cleared at stop. StartUnix is the process
// start time used to reject PID reuse across supervisor restarts.
// One record per service name; names are unique.
type Record struct {
	Name      string
	PID       int
	Port      int
	StartUnix int64
	UpdatedAt time.Time
}

// Store persists last known handles for managed services so that a
// separate stop invocation can find what a start invocation launched.
// The port probe remains the fallback when the store has nothing.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Record(ctx context.Context, rec Record) error
	GetByName(ctx context.Context, name string) (Record, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// Config selects and parameterizes a Store implementation.
type Config struct {
	Type string `json:"type" mapstructure:"type"` // "sqlite" or "postgres"
	Path string `json:"path" mapstructure:"path"` // sqlite file path, ":memory:" allowed
	DSN  string `json:"dsn" mapstructure:"dsn"`   // postgres connection string
}

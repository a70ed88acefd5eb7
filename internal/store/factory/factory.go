package factory

import (
	"fmt"
	"sync"

	"github.com/loykin/stackctl/internal/store"
	"github.com/loykin/stackctl/internal/store/postgres"
	"github.com/loykin/stackctl/internal/store/sqlite"
)

// Builder is a function that creates a store from config.
type Builder func(cfg store.Config) (store.Store, error)

type registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

var global = &registry{builders: make(map[string]Builder)}

func init() {
	Register("sqlite", func(cfg store.Config) (store.Store, error) {
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sqlite.New(path)
	})
	Register("postgres", func(cfg store.Config) (store.Store, error) {
		return postgres.New(cfg.DSN)
	})
	Register("postgresql", func(cfg store.Config) (store.Store, error) {
		return postgres.New(cfg.DSN)
	})
}

// Register adds a store type. Last registration wins.
func Register(storeType string, b Builder) {
	global.mu.Lock()
	global.builders[storeType] = b
	global.mu.Unlock()
}

// New creates a store for cfg.Type. An empty type defaults to sqlite.
func New(cfg store.Config) (store.Store, error) {
	t := cfg.Type
	if t == "" {
		t = "sqlite"
	}
	global.mu.RLock()
	b, ok := global.builders[t]
	global.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", t, SupportedTypes())
	}
	return b(cfg)
}

// SupportedTypes lists registered store types.
func SupportedTypes() []string {
	global.mu.RLock()
	defer global.mu.RUnlock()
	types := make([]string, 0, len(global.builders))
	for t := range global.builders {
		types = append(types, t)
	}
	return types
}

package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/stackctl/internal/metrics"
)

// Frontend serves the application's static files plus a health endpoint
// and the supervisor's Prometheus metrics.
type Frontend struct {
	dir string
}

// NewFrontend constructs a Frontend for the given static directory.
func NewFrontend(dir string) *Frontend {
	return &Frontend{dir: dir}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux. Static files are served from the root; /healthz and
// /metrics are reserved.
func (f *Frontend) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	// Everything else falls through to the static tree. Client
	// disconnects mid-transfer are normal (refresh, tab close) and are
	// swallowed by the recovery middleware.
	g.NoRoute(gin.WrapH(http.FileServer(http.Dir(f.dir))))
	return g
}

// NewServer starts a standalone HTTP server on addr serving dir.
// The caller owns shutdown via the returned *http.Server.
func NewServer(addr, dir string) *http.Server {
	f := NewFrontend(dir)
	server := &http.Server{
		Addr:              addr,
		Handler:           f.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

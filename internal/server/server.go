// Package server is the HTTP surface of the orchestrator: the job API,
// the worker callback endpoints, and operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mvreeden/gridsim/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Orchestrator *orchestrator.Orchestrator
	Port         int
	Registry     *prometheus.Registry
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Orchestrator == nil {
		return fmt.Errorf("server: orchestrator is required")
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}

	router := NewRouter(opts)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all routes registered. Split out
// of Start so tests can drive the router directly.
func NewRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}

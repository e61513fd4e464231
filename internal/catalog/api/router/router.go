// Package router contains API routing logic
package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	v0 "github.com/mcpdex-dev/mcpdex/internal/catalog/api/handlers/v0"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/config"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/orchestrator"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/syncer"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/telemetry"
)

// Middleware configuration options
type middlewareConfig struct {
	skipPaths map[string]bool
}

type MiddlewareOption func(*middlewareConfig)

// getRoutePath extracts the route pattern from the context
func getRoutePath(ctx huma.Context) string {
	if op := ctx.Operation().Path; op != "" {
		return ctx.Operation().Path
	}
	// Fallback to URL path (less ideal for metrics as it includes path parameters)
	return ctx.URL().Path
}

// MetricTelemetryMiddleware records request counts, errors, and latency.
func MetricTelemetryMiddleware(metrics *telemetry.Metrics, options ...MiddlewareOption) func(huma.Context, func(huma.Context)) {
	config := &middlewareConfig{
		skipPaths: make(map[string]bool),
	}
	for _, opt := range options {
		opt(config)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		path := ctx.URL().Path

		pathParts := strings.Split(path, "/")
		pathToMatch := "/" + pathParts[len(pathParts)-1]
		if config.skipPaths[pathToMatch] || config.skipPaths[path] {
			next(ctx)
			return
		}

		start := time.Now()
		method := ctx.Method()
		routePath := getRoutePath(ctx)

		next(ctx)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(ctx.Status())

		metrics.Requests.WithLabelValues(method, routePath, status).Inc()
		if ctx.Status() >= 400 {
			metrics.ErrorCount.WithLabelValues(method, routePath, status).Inc()
		}
		metrics.RequestDuration.WithLabelValues(method, routePath).Observe(duration)
	}
}

// WithSkipPaths allows skipping instrumentation for specific paths
func WithSkipPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		for _, path := range paths {
			c.skipPaths[path] = true
		}
	}
}

// handle404 returns a helpful 404 error with suggestions for common mistakes
func handle404(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusNotFound)

	path := r.URL.Path
	detail := "Endpoint not found. See /docs for the API documentation."
	if !strings.HasPrefix(path, "/v0/") {
		detail = fmt.Sprintf(
			"Endpoint not found. Did you mean '%s'? See /docs for the API documentation.",
			"/v0"+path,
		)
	}

	errorBody := map[string]any{
		"title":  "Not Found",
		"status": 404,
		"detail": detail,
	}

	jsonData, err := json.Marshal(errorBody)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if _, err = w.Write(jsonData); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// NewHumaAPI creates a new Huma API with all routes registered
func NewHumaAPI(cfg *config.Config, store database.Store, orch *orchestrator.Orchestrator, catalogSyncer *syncer.Syncer, mux *http.ServeMux, metrics *telemetry.Metrics, versionInfo *v0.VersionBody) huma.API {
	apiVersion := cfg.Version
	if apiVersion == "" {
		apiVersion = "dev"
	}
	humaConfig := huma.DefaultConfig("MCPdex Catalog", apiVersion)
	humaConfig.Info.Description = "Discovery, reconciliation, and conformance validation for MCP servers."
	// Disable $schema property in responses: https://github.com/danielgtaylor/huma/issues/230
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	api := humago.New(mux, humaConfig)

	api.OpenAPI().Tags = []*huma.Tag{
		{
			Name:        "servers",
			Description: "Operations for browsing canonical merged server records",
		},
		{
			Name:        "validations",
			Description: "Operations for requesting and tracking conformance validation",
		},
		{
			Name:        "sync",
			Description: "Operations for triggering and inspecting discovery cycles",
		},
		{
			Name:        "admin",
			Description: "Administrative operations (requires elevated permissions)",
		},
		{
			Name:        "health",
			Description: "Health check endpoint for monitoring service availability",
		},
		{
			Name:        "ping",
			Description: "Simple ping endpoint for testing connectivity",
		},
		{
			Name:        "version",
			Description: "Version information endpoint for retrieving build details",
		},
	}

	api.UseMiddleware(MetricTelemetryMiddleware(metrics,
		WithSkipPaths("/health", "/metrics", "/ping", "/docs"),
	))

	v0.RegisterHealthEndpoints(api, "/v0", versionInfo)
	v0.RegisterServersEndpoints(api, "/v0", store)
	v0.RegisterValidationsEndpoints(api, "/v0", store, orch)
	if catalogSyncer != nil {
		v0.RegisterSyncEndpoints(api, "/v0", catalogSyncer)
	}

	// Add /metrics for Prometheus metrics using promhttp
	mux.Handle("/metrics", metrics.PrometheusHandler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/docs", http.StatusTemporaryRedirect)
			return
		}
		handle404(w, r)
	})

	return api
}

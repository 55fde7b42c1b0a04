package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouteOptions carries the optional pieces SetupRoutes wires in.
type RouteOptions struct {
	// Metrics is served on /metrics and wraps every request when set.
	Metrics MetricsCollector
	// OpenLimiter guards POST /drawer/open when set.
	OpenLimiter *RateLimiter
}

// MetricsCollector is the part of metrics.Collector the router needs.
type MetricsCollector interface {
	Handler() http.Handler
	Instrument(next http.Handler) http.Handler
}

// SetupRoutes configures all drawer-hal API routes.
func SetupRoutes(r chi.Router, h *DrawerHandler, opts RouteOptions) {
	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// Health check
	r.Get("/health", h.HealthCheck)

	// Documentation
	r.Get("/docs", h.ServeSwaggerUI)
	r.Get("/docs/", h.ServeSwaggerUI)
	r.Get("/docs/openapi.yaml", h.ServeOpenAPISpec)

	// Drawer
	r.Route("/drawer", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.OpenLimiter != nil {
				r.Use(opts.OpenLimiter.Handler)
			}
			r.Post("/open", h.OpenTill)
		})
		r.Get("/serial/ports", h.ListSerialPorts)
		r.Get("/network/scan", h.ScanNetwork)
	})

	// Logs
	r.Get("/logs/drawer", h.GetDrawerLogs)

	// System
	r.Get("/system/service", h.ServiceStatus)
}

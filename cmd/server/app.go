package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/diewo77/go-clients/auth"
	"github.com/diewo77/go-clients/httpx"
	"github.com/diewo77/go-clients/internal/metrics"
	"github.com/diewo77/go-clients/internal/policy"
)

// App is the main application handler that sets up all routes.
type App struct {
	router    chi.Router
	db        *gorm.DB
	routerCfg *policy.RouterConfig
	gatherer  prometheus.Gatherer
	metrics   *metrics.Metrics
}

// NewApp creates a new application with all routes configured.
func NewApp(db *gorm.DB, routerCfg *policy.RouterConfig, gatherer prometheus.Gatherer, m *metrics.Metrics) *App {
	app := &App{
		router:    chi.NewRouter(),
		db:        db,
		routerCfg: routerCfg,
		gatherer:  gatherer,
		metrics:   m,
	}
	app.setupRoutes()
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// setupRoutes configures all application routes.
func (a *App) setupRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.withMetrics)
	a.router.Use(a.routerCfg.Signer.Middleware)

	// Public routes
	a.router.Get("/health", a.health)
	a.router.Get("/healthz", a.healthz)
	a.router.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	ch := a.routerCfg.ClientHandler
	ph := a.routerCfg.IdentityProofHandler

	a.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.With(a.requirePermission(policy.ResourceClient, policy.ActionList)).Get("/clients", ch.List)
		r.With(a.requirePermission(policy.ResourceClient, policy.ActionCreate)).Post("/clients", ch.Create)
		r.With(a.requirePermission(policy.ResourceClient, policy.ActionView)).Get("/clients/{id}", ch.View)
		r.With(a.requirePermission(policy.ResourceClient, policy.ActionUpdate)).Put("/clients/{id}", ch.Update)
		r.With(a.requirePermission(policy.ResourceClient, policy.ActionDelete)).Delete("/clients/{id}", ch.Delete)
		r.With(a.requirePermission(policy.ResourceIdentityProof, policy.ActionList)).Get("/clients/{id}/identity-proofs", ch.IdentityProofs)

		r.With(a.requirePermission(policy.ResourceIdentityProof, policy.ActionDownload)).Get("/identity-proofs/{id}/download", ph.Download)
		r.With(a.requirePermission(policy.ResourceIdentityProof, policy.ActionUpdate)).Patch("/identity-proofs/{id}/status", ph.SetStatus)
	})
}

// requirePermission wraps a handler to require specific resource permission.
func (a *App) requirePermission(resourceType string, action policy.Action) func(http.Handler) http.Handler {
	return a.routerCfg.Gate.RequirePermission(resourceType, action)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthz reports whether the record store answers.
func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		log.Printf("healthz: database unavailable: %v", err)
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withMetrics records request durations by route pattern.
func (a *App) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		a.metrics.ObserveRequest(r.Method, route, start)
	})
}

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftware/flowengine/internal/api"
	apiMiddleware "github.com/driftware/flowengine/internal/api/middleware"
	"github.com/driftware/flowengine/internal/store"
)

// setupRouter creates the application router with all routes and
// middleware.
func (app *application) setupRouter(metrics store.MetricsStore) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	executionHandler := api.NewExecutionHandler(app.queues, app.logger)
	scheduleHandler := api.NewScheduleHandler(app.scheduler, app.logger)
	healthHandler := api.NewHealthHandler(app.health, metrics, app.logger)
	adminHandler := api.NewAdminHandler(app.queues, app.manager, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/executions", executionHandler.Enqueue)
		r.Get("/executions/{id}", executionHandler.Get)
		r.Delete("/executions/{id}", executionHandler.Cancel)

		r.Post("/schedules", scheduleHandler.Create)
		r.Delete("/schedules/{id}", scheduleHandler.Delete)

		r.Get("/metrics", healthHandler.GetMetrics)
		r.Get("/alerts", healthHandler.ListAlerts)
		r.Post("/alerts/{id}/acknowledge", healthHandler.AcknowledgeAlert)
		r.Post("/alerts/{id}/resolve", healthHandler.ResolveAlert)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/queues/pause", adminHandler.PauseQueues)
			r.Post("/queues/resume", adminHandler.ResumeQueues)
			r.Get("/workers", adminHandler.ListWorkers)
			r.Post("/workers/{name}/pause", adminHandler.PauseWorker)
			r.Post("/workers/{name}/resume", adminHandler.ResumeWorker)
		})
	})

	r.Get("/health", healthHandler.Get)

	return r
}

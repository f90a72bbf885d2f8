package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires the public and administrative endpoints. Administrative
// routes (validate, deactivate, imports, canaries, alias reload) are expected
// to sit behind the deployment's auth proxy; this subsystem does not issue
// sessions.
func NewRouter(h *Handler, log *zap.Logger, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestContext)
	r.Use(requestLogger(log))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/units/resolve", h.handleResolve)
		r.Get("/units/{unitID}/pending", h.handlePendingCount)
		r.Post("/submissions", h.handleSubmit)

		r.Post("/imports", h.handleImport)
		r.Post("/canaries", h.handleCanaryIssue)
		r.Post("/subjects/{subjectID}/validate", h.handleValidate)
		r.Post("/subjects/{subjectID}/deactivate", h.handleDeactivate)
		r.Post("/aliases/reload", h.handleAliasReload)
	})

	return r
}

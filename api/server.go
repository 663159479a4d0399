/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the agency frontend

ROUTE GROUPS:
  /api/colleges/*       College registry
  /api/plans/*          Plan generation, schedule and summary
  /api/installments/*   Payments
  /api/agencies/*       Dashboard aggregates
  /api/admin/*          Re-evaluation and scheduler status
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/commission-engine/paymentplan"
)

// DefaultCORSOrigins allows a frontend dev server on localhost.
var DefaultCORSOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

// NewRouter creates a new router with all routes configured. A nil origins
// slice uses DefaultCORSOrigins.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if origins == nil {
		origins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// College routes
		r.Route("/colleges", func(r chi.Router) {
			r.Get("/", h.ListColleges)
			r.Post("/", h.CreateCollege)
		})

		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Post("/preview", h.PreviewPlan)
			r.Get("/{id}", h.GetPlan)
			r.Put("/{id}/schedule", h.ReplaceSchedule)
			r.Get("/{id}/summary", h.GetSummary)
			r.Post("/{id}/due-dates", h.AssignDueDates)
		})

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.Post("/{id}/payments", h.RecordPayment)
		})

		// Agency routes
		r.Route("/agencies", func(r chi.Router) {
			r.Get("/{id}/dashboard", h.GetDashboard)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reevaluate", h.TriggerReevaluation)
			r.Get("/scheduler", h.GetSchedulerStatus)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetStore)
		})
	})

	return r
}

// SchedulerStatusDTO reports the background re-evaluation job.
type SchedulerStatusDTO struct {
	Running bool                            `json:"running"`
	Spec    string                          `json:"spec,omitempty"`
	NextRun *time.Time                      `json:"next_run,omitempty"`
	LastRun *paymentplan.ReevaluationResult `json:"last_run,omitempty"`
}

// GetSchedulerStatus reports whether the scheduler runs and its last result.
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s := h.Scheduler
	if s == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusDTO{})
		return
	}

	resp := SchedulerStatusDTO{Spec: s.Spec}
	if next := s.NextRunTime(); !next.IsZero() {
		resp.Running = true
		resp.NextRun = &next
	}
	if last, ok := s.LastRun(); ok {
		resp.LastRun = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Connects URLs to handlers. Every /api route runs behind the acting-user
  middleware; /healthz does not.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     zap request log (method, path, status, duration)
  4. CORS:       Cross-origin requests for frontend
  5. Auth:       ActingUser from bearer token (or dev headers)

ROUTE GROUPS:
  /api/employees/*    Requests, balances, eligibility, policies, conflicts
  /api/requests/*     Lifecycle transitions and the approval queue
  /api/carryovers/*   Year-end carryover workflow
  /api/departments    Organisation
  /api/leave-types    Reference data

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go:     Token parsing and the acting-user context
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	AllowedOrigins []string
	Auth           AuthConfig
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(cfg.Auth))

		r.Get("/me", h.Me)

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.SaveEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}", h.SaveEmployee)
			r.Delete("/{id}", h.DeleteEmployee)
			r.Post("/{id}/deactivate", h.DeactivateEmployee)
			r.Get("/{id}/entitlement", h.GetEntitlement)

			r.Get("/{id}/requests", h.GetUserRequests)
			r.Post("/{id}/requests", h.CreateRequest)
			r.Get("/{id}/overlaps", h.GetOverlappingRequests)
			r.Get("/{id}/conflicts", h.FindDepartmentConflicts)

			r.Get("/{id}/balances/{year}", h.GetBalance)
			r.Post("/{id}/balances/{year}/provision", h.ProvisionBalance)

			r.Get("/{id}/eligibility/{code}", h.CanUseLeave)
			r.Get("/{id}/policies/{code}", h.ResolvePolicy)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/pending", h.GetPendingRequests)
			r.Get("/{id}", h.GetRequest)
			r.Get("/{id}/journal", h.GetRequestJournal)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/deny", h.DenyRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Route("/carryovers", func(r chi.Router) {
			r.Get("/", h.ListCarryovers)
			r.Post("/", h.SubmitCarryover)
			r.Get("/{id}", h.GetCarryover)
			r.Get("/{id}/journal", h.GetCarryoverJournal)
			r.Post("/{id}/approve", h.ApproveCarryover)
			r.Post("/{id}/deny", h.DenyCarryover)
		})

		r.Post("/departments", h.SaveDepartment)
		r.Get("/leave-types", h.ListLeaveTypes)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}

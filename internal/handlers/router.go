package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/arkikgo/internal/buildinfo"
	"github.com/xelth-com/arkikgo/internal/metrics"
	"github.com/xelth-com/arkikgo/internal/middleware"
	"github.com/xelth-com/arkikgo/internal/services/importer"
	"github.com/xelth-com/arkikgo/internal/websocket"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Router wraps the mux router and the import service
type Router struct {
	*mux.Router
	imports *importer.Service
	hub     *websocket.Hub
	health  map[string]HealthChecker
	logger  logrus.FieldLogger
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(imports *importer.Service, hub *websocket.Hub, m *metrics.Metrics, health map[string]HealthChecker, logger logrus.FieldLogger) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		imports: imports,
		hub:     hub,
		health:  health,
		logger:  logger.WithField("module", "handlers"),
	}
	if m != nil {
		r.Use(m.Middleware)
		r.Handle("/metrics", m.Handler()).Methods("GET")
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Import sessions
	api := r.PathPrefix("/api/import/sessions").Subrouter()
	api.HandleFunc("", r.openSession).Methods("POST")
	api.HandleFunc("/{id}", r.getSession).Methods("GET")
	api.HandleFunc("/{id}", r.abandonSession).Methods("DELETE")
	api.HandleFunc("/{id}/refresh", r.refreshSession).Methods("POST")
	api.HandleFunc("/{id}/records", r.listRecords).Methods("GET")
	api.HandleFunc("/{id}/duplicates", r.listDuplicates).Methods("GET")
	api.HandleFunc("/{id}/duplicates/{number}", r.setDuplicateStrategy).Methods("PUT")
	api.HandleFunc("/{id}/records/{number}/candidates", r.listCandidates).Methods("GET")
	api.HandleFunc("/{id}/records/{number}/candidates", r.rematchRecord).Methods("POST")
	api.HandleFunc("/{id}/records/{number}/assignment", r.assignOrder).Methods("PUT")
	api.HandleFunc("/{id}/records/{number}/targets", r.listTargets).Methods("GET")
	api.HandleFunc("/{id}/records/{number}/targets", r.retargetRecord).Methods("POST")
	api.HandleFunc("/{id}/records/{number}/status-decision", r.decideStatus).Methods("PUT")
	api.HandleFunc("/{id}/blockers", r.listBlockers).Methods("GET")
	api.HandleFunc("/{id}/commit", r.commitSession).Methods("POST")
	api.HandleFunc("/{id}/report.pdf", r.sessionReport).Methods("GET")

	// Commit progress push
	r.HandleFunc("/ws/import/{id}", r.watchSession).Methods("GET")

	return r
}

// Handler returns the router behind the case-insensitive path rewrite
func (r *Router) Handler() http.Handler {
	return middleware.CaseInsensitive(r.Router)
}

// healthCheck returns the health status of the API and its dependencies
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(r.health))
	for name, h := range r.health {
		if err := h.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]any{
		"status":      overall,
		"checks":      checks,
		"build_time":  buildinfo.BuildTime,
		"commit_hash": buildinfo.CommitHash,
		"commit_time": buildinfo.CommitTime,
		"started_at":  buildinfo.StartTime,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response mapped from err
func (r *Router) respondError(w http.ResponseWriter, req *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		r.logger.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"code":   appErr.Code,
		}).WithError(err).Error("request failed")
	}
	respondJSON(w, appErr.HTTPStatus, map[string]any{
		"error": appErr,
	})
}

// Package opsserver exposes the worker process's operational endpoints:
// Prometheus metrics, a health check, and the state of each worker.
package opsserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sky93/taskworker"
)

// WorkerSource lists the running workers.
type WorkerSource interface {
	Workers() []*taskworker.Worker
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

type workerResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Handler builds the router. db and workers may be nil.
func Handler(db *sql.DB, gatherer prometheus.Gatherer, workers WorkerSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(db))
	r.Get("/workers", workersHandler(workers))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func healthzHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.PingContext(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(r.Context(), w, statusCode, resp)
	}
}

func workersHandler(src WorkerSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := []workerResponse{}
		if src != nil {
			for _, wk := range src.Workers() {
				resp = append(resp, workerResponse{ID: wk.ID(), Status: wk.Status().String()})
			}
		}
		writeJSON(r.Context(), w, http.StatusOK, resp)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "opsserver: failed to encode response", "error", err)
	}
}

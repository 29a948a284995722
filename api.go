package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobrelay/internal/data"
	"jobrelay/internal/queue"
	"jobrelay/internal/upstream"
)

type apiDeps struct {
	rdb          *redis.Client
	handler      queue.Handler
	queueName    string
	resultPrefix string
	healthURL    string
	registry     *prometheus.Registry
}

type resultResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
}

func newRouter(deps apiDeps) http.Handler {
	health := healthcheck.NewMetricsHandler(deps.registry, "jobrelay")
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("upstream", healthcheck.HTTPGetCheck(deps.healthURL, upstream.DefaultHealthTimeout))
	health.AddReadinessCheck("job-queue", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return deps.rdb.Ping(ctx).Err()
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/v1/run", submitHandler(deps.rdb, deps.queueName))
	r.Post("/v1/runsync", runSyncHandler(deps.handler))
	r.Get("/v1/result/{id}", resultHandler(deps.rdb, deps.resultPrefix))
	r.Handle("/live", health)
	r.Handle("/ready", health)
	r.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))
	return r
}

func submitHandler(rdb *redis.Client, queueName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job data.Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			log.Printf("ERROR: Failed to parse JSON body: %v", err)
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}

		requestID, err := queue.Enqueue(r.Context(), rdb, queueName, job)
		if err != nil {
			log.Printf("ERROR: Failed to enqueue job: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
	}
}

func runSyncHandler(h queue.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job data.Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			log.Printf("ERROR: Failed to parse JSON body: %v", err)
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, h.Handle(r.Context(), job))
	}
}

func resultHandler(rdb *redis.Client, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		result, err := queue.FetchResult(r.Context(), rdb, prefix, id)
		if errors.Is(err, queue.ErrResultNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "result not found"})
			return
		}
		if err != nil {
			log.Printf("ERROR: Failed to load result %s: %v", id, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, resultResponse{
			ID:     result.RequestID,
			Status: "COMPLETED",
			Output: result.Output,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to write response: %v", err)
	}
}

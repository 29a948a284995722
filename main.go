package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"jobrelay/internal/adapter"
	"jobrelay/internal/data"
	"jobrelay/internal/queue"
	"jobrelay/internal/upstream"
)

// smokeJobs run in standalone mode once the upstream is up.
var smokeJobs = []data.Job{
	{Input: map[string]interface{}{"action": data.ActionHealthCheck}},
	{Input: map[string]interface{}{"action": data.ActionStatus}},
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Println("INFO: No .env file found, using system environment variables")
	}
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := upstream.NewClient(cfg.BaseURL)

	registry := prometheus.NewRegistry()
	relay := adapter.New(client,
		adapter.WithAppName(cfg.AppName),
		adapter.WithMaxWait(cfg.MaxWait),
		adapter.WithMetrics(adapter.NewMetrics(registry)),
		adapter.WithVerbose(cfg.Debug),
	)

	log.Printf("INFO: Server URL: %s", client.BaseURL)
	log.Printf("INFO: Health check URL: %s", client.HealthURL())

	if cfg.QueueURL == "" {
		log.Println("WARNING: JOB_QUEUE_URL not set, running in test mode")
		os.Exit(runSmokeTests(ctx, relay))
	}

	if err := serve(ctx, cfg, client, relay, registry); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	log.Println("INFO: Worker shut down gracefully.")
}

// runSmokeTests returns the process exit code.
func runSmokeTests(ctx context.Context, relay *adapter.Adapter) int {
	if !relay.EnsureReady(ctx) {
		log.Println("ERROR: Service is not available")
		return 1
	}
	for _, job := range smokeJobs {
		relay.Handle(ctx, job)
	}
	return 0
}

func serve(ctx context.Context, cfg config, client *upstream.Client, relay *adapter.Adapter, registry *prometheus.Registry) error {
	opt, err := redis.ParseURL(cfg.QueueURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	worker, err := queue.NewWorker(rdb, relay, queue.WorkerConfig{
		Queue:        cfg.QueueName,
		ResultPrefix: cfg.ResultPrefix,
		ResultTTL:    cfg.ResultTTL,
		Concurrency:  cfg.Concurrency,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: newRouter(apiDeps{
			rdb:          rdb,
			handler:      relay,
			queueName:    cfg.QueueName,
			resultPrefix: cfg.ResultPrefix,
			healthURL:    client.HealthURL(),
			registry:     registry,
		}),
	}

	workerDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(workerDone)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: API server shutdown: %v", err)
		}
	}()

	log.Printf("INFO: API server starting on %s", cfg.APIAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-workerDone
	return nil
}

// Package queue moves jobs and their results through Redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/vmihailenco/msgpack/v5"

	"jobrelay/internal/data"
)

// Defaults for WorkerConfig.
const (
	DefaultQueue        = "jobrelay_job_queue"
	DefaultResultPrefix = "jobrelay"
	DefaultResultTTL    = time.Hour
	DefaultBlockTimeout = 5 * time.Second
)

// ErrResultNotFound is returned by FetchResult when no result is stored.
var ErrResultNotFound = errors.New("result not found")

// Handler runs one job to completion.
type Handler interface {
	Handle(ctx context.Context, job data.Job) data.Result
}

// Enqueue publishes job to the named list and returns its request id.
// A job without an id gets a fresh one.
func Enqueue(ctx context.Context, rdb *redis.Client, queue string, job data.Job) (string, error) {
	requestID := job.ID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	queued := data.QueuedJob{
		RequestID:   requestID,
		TraceID:     uuid.New().String(),
		Input:       job.Input,
		TimestampMs: time.Now().UnixMilli(),
	}

	payload, err := msgpack.Marshal(&queued)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	if err := rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return "", fmt.Errorf("publish job to %s: %w", queue, err)
	}

	log.Printf("INFO: Published job %s to queue: %s", requestID, queue)
	return requestID, nil
}

// FetchResult loads the stored result for requestID.
func FetchResult(ctx context.Context, rdb *redis.Client, prefix, requestID string) (*data.QueuedResult, error) {
	raw, err := rdb.Get(ctx, resultKey(prefix, requestID)).Bytes()
	if err == redis.Nil {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", requestID, err)
	}

	var result data.QueuedResult
	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", requestID, err)
	}
	return &result, nil
}

// WorkerConfig tunes a Worker; zero fields take the package defaults.
type WorkerConfig struct {
	Queue        string
	ResultPrefix string
	ResultTTL    time.Duration
	BlockTimeout time.Duration
	Concurrency  int
}

// Worker pops jobs off a Redis list and hands them to a Handler, at most
// Concurrency at a time.
type Worker struct {
	rdb     *redis.Client
	handler Handler
	cfg     WorkerConfig
	pool    *ants.Pool
	wg      sync.WaitGroup
}

// NewWorker fills config defaults and creates the goroutine pool.
func NewWorker(rdb *redis.Client, handler Handler, cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.ResultPrefix == "" {
		cfg.ResultPrefix = DefaultResultPrefix
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Worker{rdb: rdb, handler: handler, cfg: cfg, pool: pool}, nil
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("INFO: Worker started, waiting for jobs on %s...", w.cfg.Queue)
	defer w.pool.Release()

	for {
		if ctx.Err() != nil {
			log.Println("INFO: Worker stopping...")
			w.wg.Wait()
			return
		}

		popped, err := w.rdb.BLPop(ctx, w.cfg.BlockTimeout, w.cfg.Queue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("ERROR: Failed to receive job: %v", err)
				sleep(ctx, time.Second)
			}
			continue
		}

		// popped is [key, value]
		payload := []byte(popped[1])
		w.wg.Add(1)
		if err := w.pool.Submit(func() {
			defer w.wg.Done()
			w.process(ctx, payload)
		}); err != nil {
			w.wg.Done()
			log.Printf("ERROR: Failed to schedule job: %v", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, payload []byte) {
	var queued data.QueuedJob
	if err := msgpack.Unmarshal(payload, &queued); err != nil {
		log.Printf("ERROR: Failed to decode queued job: %v", err)
		return
	}

	result := w.handler.Handle(ctx, data.Job{ID: queued.RequestID, Input: queued.Input})

	output, err := json.Marshal(result)
	if err != nil {
		log.Printf("ERROR: Failed to encode result for job %s: %v", queued.RequestID, err)
		return
	}

	stored, err := msgpack.Marshal(&data.QueuedResult{
		RequestID:   queued.RequestID,
		TraceID:     queued.TraceID,
		Output:      output,
		TimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("ERROR: Failed to encode stored result for job %s: %v", queued.RequestID, err)
		return
	}

	// The result is written even when shutdown has begun.
	key := resultKey(w.cfg.ResultPrefix, queued.RequestID)
	if err := w.rdb.Set(context.WithoutCancel(ctx), key, stored, w.cfg.ResultTTL).Err(); err != nil {
		log.Printf("ERROR: Failed to store result for job %s: %v", queued.RequestID, err)
		return
	}
	log.Printf("INFO: Job %s completed.", queued.RequestID)
}

func resultKey(prefix, requestID string) string {
	return fmt.Sprintf("%s:result:%s", prefix, requestID)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

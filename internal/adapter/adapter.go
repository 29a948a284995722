// Package adapter turns jobs from the host runtime into calls against the
// upstream application and normalizes the answers into job results.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"jobrelay/internal/data"
	"jobrelay/internal/upstream"
)

// Defaults used when no option overrides them.
const (
	DefaultAppName = "RuoYi AI"
	DefaultMaxWait = 60
)

// Adapter is safe for concurrent use. The readiness flag only ever moves
// from false to true.
type Adapter struct {
	client  *upstream.Client
	appName string
	maxWait int
	metrics *Metrics
	now     func() time.Time
	ready   atomic.Bool
	verbose bool
}

// Option configures an Adapter built by New.
type Option func(*Adapter)

// WithAppName sets the application name reported by health checks.
func WithAppName(name string) Option {
	return func(a *Adapter) { a.appName = name }
}

// WithMaxWait sets the readiness budget, in probe attempts one interval apart.
func WithMaxWait(attempts int) Option {
	return func(a *Adapter) { a.maxWait = attempts }
}

// WithMetrics records job and upstream metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithClock replaces time.Now for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithVerbose turns on DEBUG log lines for the adapter and its client.
func WithVerbose(on bool) Option {
	return func(a *Adapter) { a.verbose = on }
}

// New builds an Adapter around client. The readiness flag starts unset.
func New(client *upstream.Client, opts ...Option) *Adapter {
	a := &Adapter{
		client:  client,
		appName: DefaultAppName,
		maxWait: DefaultMaxWait,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if client != nil {
		client.Verbose = a.verbose
	}
	return a
}

// Ready reports whether the upstream has been confirmed available at least once.
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// EnsureReady probes the upstream unless readiness was already confirmed.
// A failed probe leaves the flag unset so the next caller probes again.
func (a *Adapter) EnsureReady(ctx context.Context) bool {
	if a.ready.Load() {
		return true
	}
	ok := a.client.WaitForService(ctx, a.maxWait)
	a.metrics.observeReadiness(ok)
	if ok {
		a.ready.Store(true)
	}
	return ok
}

// Handle is the per-job entry point invoked by the host runtime.
func (a *Adapter) Handle(ctx context.Context, job data.Job) data.Result {
	logJSON("Received job", job)

	var result data.Result
	if !a.EnsureReady(ctx) {
		result = data.ErrorResult{Error: "Service failed to start", Status: "error"}
		a.metrics.observeJob(metricAction(actionOf(job.Input)), "startup_failed")
	} else {
		result = a.Process(ctx, job)
	}

	logJSON("Returning result", result)
	return result
}

// Process routes a job to the action it names. It never panics.
func (a *Adapter) Process(ctx context.Context, job data.Job) (result data.Result) {
	action := actionOf(job.Input)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Error processing request: %v\n%s", r, debug.Stack())
			result = data.ErrorResult{Error: fmt.Sprint(r)}
		}
		a.metrics.observeJob(metricAction(action), outcome(result))
	}()

	log.Printf("INFO: Processing action: %s", action)

	switch action {
	case data.ActionHealthCheck:
		return a.HealthCheck(ctx)
	case data.ActionStatus:
		return a.Status(ctx)
	case data.ActionChat:
		message, _ := job.Input["message"].(string)
		if message == "" {
			return data.ErrorResult{Error: "Message is required for chat action"}
		}
		return a.Chat(ctx, message, chatParams(job.Input))
	default:
		return data.ErrorResult{
			Error:            fmt.Sprintf("Unknown action: %s", action),
			SupportedActions: data.SupportedActions,
		}
	}
}

// HealthCheck queries the upstream health endpoint once.
func (a *Adapter) HealthCheck(ctx context.Context) data.HealthResult {
	start := time.Now()
	doc, err := a.client.Health(ctx)
	a.metrics.observeUpstream("health", start, err)

	if err == nil {
		return data.HealthResult{Status: "healthy", Application: a.appName, Details: doc}
	}

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return data.HealthResult{
			Status: "unhealthy",
			Error:  fmt.Sprintf("Health check returned status code: %d", statusErr.Code),
		}
	}

	log.Printf("ERROR: Health check failed: %v", err)
	return data.HealthResult{Status: "unhealthy", Error: err.Error()}
}

// Status wraps a health check with the server URL and the current time.
func (a *Adapter) Status(ctx context.Context) data.StatusResult {
	health := a.HealthCheck(ctx)
	status := "error"
	if health.Healthy() {
		status = "running"
	}
	return data.StatusResult{
		Status:    status,
		Health:    health,
		ServerURL: a.client.BaseURL,
		Timestamp: epochSeconds(a.now()),
	}
}

// Chat relays message and params to the upstream chat API. A "message" key
// in params never overrides message.
func (a *Adapter) Chat(ctx context.Context, message string, params data.Params) data.ChatResult {
	body := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		if k == "message" {
			if a.verbose {
				log.Printf("DEBUG: Ignoring colliding chat parameter %q", k)
			}
			continue
		}
		body[k] = v
	}
	body["message"] = message

	log.Printf("INFO: Sending chat request to %s", a.client.ChatURL())

	start := time.Now()
	doc, err := a.client.Chat(ctx, body)
	a.metrics.observeUpstream("chat", start, err)

	if err == nil {
		return data.ChatResult{Success: true, Data: doc}
	}

	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		details := statusErr.Body
		return data.ChatResult{
			Error:   fmt.Sprintf("Chat API returned status code: %d", statusErr.Code),
			Details: &details,
		}
	case upstream.IsTimeout(err):
		log.Printf("ERROR: Chat request timed out")
		return data.ChatResult{Error: "Request timed out"}
	default:
		log.Printf("ERROR: Chat request failed: %v", err)
		return data.ChatResult{Error: err.Error()}
	}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func actionOf(input map[string]interface{}) string {
	switch v := input["action"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func chatParams(input map[string]interface{}) data.Params {
	params := make(data.Params, len(input))
	for k, v := range input {
		if k == "action" || k == "message" {
			continue
		}
		params[k] = v
	}
	return params
}

func logJSON(prefix string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("INFO: %s: %+v", prefix, v)
		return
	}
	log.Printf("INFO: %s: %s", prefix, raw)
}

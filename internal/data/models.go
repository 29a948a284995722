package data

import "encoding/json"

// Supported job actions.
const (
	ActionHealthCheck = "health_check"
	ActionStatus      = "status"
	ActionChat        = "chat"
)

// SupportedActions lists the actions in the order they are reported to callers.
var SupportedActions = []string{ActionHealthCheck, ActionStatus, ActionChat}

// Params carries job fields forwarded verbatim to the upstream chat API.
type Params map[string]interface{}

// Job is one unit of work delivered by the host runtime.
type Job struct {
	ID    string                 `json:"id,omitempty" msgpack:"id,omitempty"`
	Input map[string]interface{} `json:"input" msgpack:"input"`
}

// QueuedJob is the envelope pushed onto the Redis job list.
type QueuedJob struct {
	RequestID   string                 `msgpack:"request_id"`
	TraceID     string                 `msgpack:"trace_id"`
	Input       map[string]interface{} `msgpack:"input"`
	TimestampMs int64                  `msgpack:"timestamp_ms"`
}

// QueuedResult is what the worker stores once a queued job has been handled.
// Output holds the JSON encoding of the job Result.
type QueuedResult struct {
	RequestID   string `msgpack:"request_id"`
	TraceID     string `msgpack:"trace_id"`
	Output      []byte `msgpack:"output"`
	TimestampMs int64  `msgpack:"timestamp_ms"`
}

// Result is any JSON-serializable job outcome.
type Result interface{}

// HealthResult is returned by the health_check action.
type HealthResult struct {
	Status      string          `json:"status"`
	Application string          `json:"application,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Healthy reports whether the upstream answered its health endpoint.
func (r HealthResult) Healthy() bool {
	return r.Status == "healthy"
}

// StatusResult is returned by the status action.
type StatusResult struct {
	Status    string       `json:"status"`
	Health    HealthResult `json:"health"`
	ServerURL string       `json:"server_url"`
	Timestamp float64      `json:"timestamp"`
}

// ChatResult is returned by the chat action. Details is only set when the
// upstream answered with a non-200 status.
type ChatResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details *string         `json:"details,omitempty"`
}

// ErrorResult is returned when a job cannot be routed or processed.
type ErrorResult struct {
	Error            string   `json:"error"`
	Status           string   `json:"status,omitempty"`
	SupportedActions []string `json:"supported_actions,omitempty"`
}

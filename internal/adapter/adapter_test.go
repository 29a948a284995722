package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobrelay/internal/data"
	"jobrelay/internal/upstream"
)

// fakeApp stands in for the upstream web application.
type fakeApp struct {
	server      *httptest.Server
	healthCode  atomic.Int32
	healthHits  atomic.Int32
	chatHits    atomic.Int32
	chatHandler http.HandlerFunc
}

func newFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	app := &fakeApp{}
	app.healthCode.Store(http.StatusOK)
	app.chatHandler = func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte(`{"echo":` + string(body) + `}`))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/actuator/health", func(w http.ResponseWriter, r *http.Request) {
		app.healthHits.Add(1)
		code := int(app.healthCode.Load())
		w.WriteHeader(code)
		if code == http.StatusOK {
			w.Write([]byte(`{"status":"UP"}`))
		}
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		app.chatHits.Add(1)
		app.chatHandler(w, r)
	})
	app.server = httptest.NewServer(mux)
	t.Cleanup(app.server.Close)
	return app
}

func (f *fakeApp) client() *upstream.Client {
	c := upstream.NewClient(f.server.URL)
	c.ProbeInterval = 5 * time.Millisecond
	return c
}

func jsonOf(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func job(input map[string]interface{}) data.Job {
	return data.Job{Input: input}
}

func TestProcess_UnknownAction(t *testing.T) {
	app := newFakeApp(t)
	a := New(app.client())

	cases := []struct {
		name   string
		input  map[string]interface{}
		action string
	}{
		{"missing", map[string]interface{}{}, ""},
		{"nil input", nil, ""},
		{"empty", map[string]interface{}{"action": ""}, ""},
		{"wrong case", map[string]interface{}{"action": "HEALTH_CHECK"}, "HEALTH_CHECK"},
		{"other", map[string]interface{}{"action": "reboot"}, "reboot"},
		{"number", map[string]interface{}{"action": 5}, "5"},
		{"null", map[string]interface{}{"action": nil}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := a.Process(context.Background(), job(tc.input))
			want := `{"error":"Unknown action: ` + tc.action + `","supported_actions":["health_check","status","chat"]}`
			assert.JSONEq(t, want, jsonOf(t, result))
		})
	}
	assert.Zero(t, app.healthHits.Load())
	assert.Zero(t, app.chatHits.Load())
}

func TestProcess_ChatRequiresMessage(t *testing.T) {
	app := newFakeApp(t)
	a := New(app.client())

	for _, input := range []map[string]interface{}{
		{"action": "chat"},
		{"action": "chat", "message": ""},
		{"action": "chat", "message": nil},
		{"action": "chat", "message": 42},
	} {
		result := a.Process(context.Background(), job(input))
		assert.JSONEq(t, `{"error":"Message is required for chat action"}`, jsonOf(t, result))
	}
	assert.Zero(t, app.chatHits.Load())
}

func TestProcess_ChatForwardsExtraFields(t *testing.T) {
	app := newFakeApp(t)
	var got map[string]interface{}
	app.chatHandler = func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"reply":"ok"}`))
	}
	a := New(app.client())

	result := a.Process(context.Background(), job(map[string]interface{}{
		"action":     "chat",
		"message":    "hello",
		"session_id": "abc",
		"options":    map[string]interface{}{"temperature": 0.2},
	}))

	assert.JSONEq(t, `{"success":true,"data":{"reply":"ok"}}`, jsonOf(t, result))
	assert.Equal(t, map[string]interface{}{
		"message":    "hello",
		"session_id": "abc",
		"options":    map[string]interface{}{"temperature": 0.2},
	}, got)
}

func TestChat_IgnoresCollidingMessageParam(t *testing.T) {
	app := newFakeApp(t)
	var got map[string]interface{}
	app.chatHandler = func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	}
	a := New(app.client())

	result := a.Chat(context.Background(), "real", data.Params{"message": "override", "lang": "en"})
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"message": "real", "lang": "en"}, got)
}

func TestChat_UpstreamError(t *testing.T) {
	app := newFakeApp(t)
	app.chatHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	}
	a := New(app.client())

	result := a.Chat(context.Background(), "hi", nil)
	assert.JSONEq(t, `{"success":false,"error":"Chat API returned status code: 500","details":"oops"}`, jsonOf(t, result))
}

func TestChat_EmptyErrorBodyKeepsDetails(t *testing.T) {
	app := newFakeApp(t)
	app.chatHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	a := New(app.client())

	result := a.Chat(context.Background(), "hi", nil)
	assert.JSONEq(t, `{"success":false,"error":"Chat API returned status code: 502","details":""}`, jsonOf(t, result))
}

func TestChat_Timeout(t *testing.T) {
	app := newFakeApp(t)
	release := make(chan struct{})
	app.chatHandler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	defer close(release)

	client := app.client()
	client.ChatTimeout = 50 * time.Millisecond
	a := New(client)

	result := a.Chat(context.Background(), "hi", nil)
	assert.JSONEq(t, `{"success":false,"error":"Request timed out"}`, jsonOf(t, result))
}

func TestChat_MalformedReply(t *testing.T) {
	app := newFakeApp(t)
	app.chatHandler = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}
	a := New(app.client())

	result := a.Chat(context.Background(), "hi", nil)
	assert.False(t, result.Success)
	assert.Nil(t, result.Details)
	assert.Contains(t, result.Error, "decode chat response")
}

func TestHealthCheck_Healthy(t *testing.T) {
	app := newFakeApp(t)
	a := New(app.client())

	result := a.HealthCheck(context.Background())
	assert.JSONEq(t, `{"status":"healthy","application":"RuoYi AI","details":{"status":"UP"}}`, jsonOf(t, result))
}

func TestHealthCheck_BadStatus(t *testing.T) {
	app := newFakeApp(t)
	app.healthCode.Store(http.StatusServiceUnavailable)
	a := New(app.client())

	result := a.HealthCheck(context.Background())
	assert.JSONEq(t, `{"status":"unhealthy","error":"Health check returned status code: 503"}`, jsonOf(t, result))
}

func TestHealthCheck_Unreachable(t *testing.T) {
	app := newFakeApp(t)
	client := app.client()
	app.server.Close()
	a := New(client)

	result := a.HealthCheck(context.Background())
	assert.Equal(t, "unhealthy", result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, result.Application)
	assert.Nil(t, result.Details)
}

func TestStatus(t *testing.T) {
	app := newFakeApp(t)
	now := time.Unix(1700000000, 500000000)
	a := New(app.client(), WithClock(func() time.Time { return now }))

	result := a.Process(context.Background(), job(map[string]interface{}{"action": "status"}))
	want := `{"status":"running","health":{"status":"healthy","application":"RuoYi AI","details":{"status":"UP"}},` +
		`"server_url":"` + app.server.URL + `","timestamp":1700000000.5}`
	assert.JSONEq(t, want, jsonOf(t, result))

	app.healthCode.Store(http.StatusInternalServerError)
	status := a.Status(context.Background())
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "unhealthy", status.Health.Status)
}

func TestWithVerbose_SwitchesClientDebug(t *testing.T) {
	app := newFakeApp(t)

	c := app.client()
	New(c, WithVerbose(true))
	assert.True(t, c.Verbose)

	c = app.client()
	c.Verbose = true
	New(c)
	assert.False(t, c.Verbose)
}

func TestHandle_ProbesOnlyUntilFirstSuccess(t *testing.T) {
	app := newFakeApp(t)
	a := New(app.client(), WithMaxWait(3))
	chatNoMessage := job(map[string]interface{}{"action": "chat"})

	result := a.Handle(context.Background(), chatNoMessage)
	assert.JSONEq(t, `{"error":"Message is required for chat action"}`, jsonOf(t, result))
	assert.True(t, a.Ready())
	assert.Equal(t, int32(1), app.healthHits.Load())

	app.healthCode.Store(http.StatusServiceUnavailable)
	result = a.Handle(context.Background(), chatNoMessage)
	assert.JSONEq(t, `{"error":"Message is required for chat action"}`, jsonOf(t, result))
	assert.Equal(t, int32(1), app.healthHits.Load())
}

func TestHandle_StartupFailureDoesNotSetFlag(t *testing.T) {
	app := newFakeApp(t)
	app.healthCode.Store(http.StatusServiceUnavailable)
	a := New(app.client(), WithMaxWait(2))
	statusJob := job(map[string]interface{}{"action": "status"})

	result := a.Handle(context.Background(), statusJob)
	assert.JSONEq(t, `{"error":"Service failed to start","status":"error"}`, jsonOf(t, result))
	assert.False(t, a.Ready())
	assert.Equal(t, int32(2), app.healthHits.Load())

	app.healthCode.Store(http.StatusOK)
	result = a.Handle(context.Background(), statusJob)
	status, ok := result.(data.StatusResult)
	require.True(t, ok)
	assert.Equal(t, "running", status.Status)
	assert.True(t, a.Ready())
}

func TestProcess_RecoversFromPanic(t *testing.T) {
	a := New(nil)

	result := a.Process(context.Background(), job(map[string]interface{}{"action": "health_check"}))
	errResult, ok := result.(data.ErrorResult)
	require.True(t, ok)
	assert.Contains(t, errResult.Error, "nil pointer dereference")
	assert.Empty(t, errResult.SupportedActions)
}

func TestMetrics(t *testing.T) {
	app := newFakeApp(t)
	m := NewMetrics(prometheus.NewRegistry())
	a := New(app.client(), WithMetrics(m), WithMaxWait(1))

	a.Handle(context.Background(), job(map[string]interface{}{"action": "health_check"}))
	a.Handle(context.Background(), job(map[string]interface{}{"action": "nope"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.readiness.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("health_check", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("unknown", "rejected")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.upstream))
}

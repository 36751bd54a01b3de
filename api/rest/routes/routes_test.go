package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tunespace/core/events"
	"tunespace/core/executor"
	"tunespace/core/models"
	"tunespace/core/registry"
	"tunespace/core/scheduler"
	"tunespace/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type testServer struct {
	*httptest.Server
	sched *scheduler.Scheduler
}

func newTestServer(t *testing.T, exec executor.TrainingExecutor, limiter *rate.Limiter) *testServer {
	t.Helper()
	memlog := events.NewMemoryLog()
	dispatcher := events.NewDispatcher(64, nil, memlog)
	sched := scheduler.NewScheduler(registry.New(), exec,
		scheduler.WithMaxConcurrent(2),
		scheduler.WithEvents(dispatcher),
	)
	store, err := storage.NewDatasetStore(t.TempDir())
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(Deps{
		Jobs:             sched,
		Events:           memlog,
		Datasets:         store,
		DefaultOutputDir: t.TempDir(),
		SubmitLimiter:    limiter,
		MetricsHandler:   http.NotFoundHandler(),
		CORSOrigins:      []string{"http://localhost:3000"},
	}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
		_ = dispatcher.Close(ctx)
	})
	return &testServer{Server: srv, sched: sched}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func halfwayThenDone(ctx context.Context, req executor.TrainingRequest, progress executor.ProgressFunc) (map[string]float64, error) {
	progress(5, 10)
	progress(10, 10)
	return map[string]float64{"train_loss": 0.5}, nil
}

func TestRoutes_JobLifecycle(t *testing.T) {
	srv := newTestServer(t, executor.Func(halfwayThenDone), nil)

	code, body := srv.do(t, http.MethodPost, "/api/tuning/start",
		`{"model_name":"gpt2","dataset_path":"data/train.jsonl","num_epochs":1}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "started", body["status"])
	id := body["job_id"].(string)

	require.Eventually(t, func() bool {
		code, body := srv.do(t, http.MethodGet, "/api/tuning/jobs/"+id, "")
		return code == http.StatusOK && body["status"] == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	_, job := srv.do(t, http.MethodGet, "/api/tuning/jobs/"+id, "")
	assert.Equal(t, 100.0, job["progress"])
	assert.Equal(t, 0.5, job["metrics"].(map[string]interface{})["train_loss"])

	require.Eventually(t, func() bool {
		_, body := srv.do(t, http.MethodGet, "/api/tuning/jobs/"+id+"/events", "")
		return len(body["items"].([]interface{})) == 3
	}, 5*time.Second, 10*time.Millisecond)

	_, body = srv.do(t, http.MethodGet, "/api/tuning/jobs/"+id+"/events", "")
	items := body["items"].([]interface{})
	reasons := make([]string, 0, len(items))
	for _, it := range items {
		reasons = append(reasons, it.(map[string]interface{})["reason"].(string))
	}
	assert.Equal(t, []string{models.ReasonJobCreated, models.ReasonExecutionStarted, models.ReasonTrainingCompleted}, reasons)

	code, body = srv.do(t, http.MethodDelete, "/api/tuning/jobs/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Job not found", body["detail"])
}

func TestRoutes_CancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, req executor.TrainingRequest, progress executor.ProgressFunc) (map[string]float64, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	srv := newTestServer(t, exec, nil)

	_, body := srv.do(t, http.MethodPost, "/api/tuning/start", `{"model_name":"gpt2","dataset_path":"d.json"}`)
	id := body["job_id"].(string)
	<-started

	code, body := srv.do(t, http.MethodPost, "/api/tuning/jobs/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])

	_, job := srv.do(t, http.MethodGet, "/api/tuning/jobs/"+id, "")
	assert.Equal(t, "cancelled", job["status"])
	assert.NotNil(t, job["completed_at"])
}

func TestRoutes_UnknownJob(t *testing.T) {
	srv := newTestServer(t, executor.Func(halfwayThenDone), nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/tuning/jobs/nope"},
		{http.MethodDelete, "/api/tuning/jobs/nope"},
		{http.MethodPost, "/api/tuning/jobs/nope/cancel"},
		{http.MethodGet, "/api/tuning/jobs/nope/events"},
	} {
		code, body := srv.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, code, tc.path)
		assert.Equal(t, "Job not found", body["detail"], tc.path)
	}
}

func TestRoutes_SubmitRateLimited(t *testing.T) {
	srv := newTestServer(t, executor.Func(halfwayThenDone), rate.NewLimiter(rate.Limit(0.001), 1))

	code, _ := srv.do(t, http.MethodPost, "/api/tuning/start", `{"model_name":"gpt2","dataset_path":"d.json"}`)
	assert.Equal(t, http.StatusAccepted, code)

	code, body := srv.do(t, http.MethodPost, "/api/tuning/start", `{"model_name":"gpt2","dataset_path":"d.json"}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.NotEmpty(t, body["detail"])

	code, _ = srv.do(t, http.MethodGet, "/api/tuning/jobs", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRoutes_SubmitAfterShutdown(t *testing.T) {
	srv := newTestServer(t, executor.Func(halfwayThenDone), nil)
	require.NoError(t, srv.sched.Shutdown(context.Background()))

	code, _ := srv.do(t, http.MethodPost, "/api/tuning/start", `{"model_name":"gpt2","dataset_path":"d.json"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRoutes_HealthAndSummary(t *testing.T) {
	srv := newTestServer(t, executor.Func(halfwayThenDone), nil)

	code, body := srv.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, body = srv.do(t, http.MethodGet, "/api/tuning/summary", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.0, body["total"])

	code, _ = srv.do(t, http.MethodGet, "/api/data/datasets", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, executor.Func(halfwayThenDone), nil)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/tuning/jobs", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, executor.Func(halfwayThenDone), nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/tuning/start", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/tuning/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

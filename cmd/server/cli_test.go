package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestJobsSubmit_Flags(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tuning/start", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"job_id":"job-1","status":"started"}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "jobs", "submit", "--server", srv.URL, "--model", "gpt2", "--dataset", "d.json", "--epochs", "1")
	require.NoError(t, err)
	assert.Equal(t, "job-1\n", out)
	assert.Equal(t, "gpt2", got["model_name"])
	assert.Equal(t, float64(1), got["num_epochs"])
	assert.NotContains(t, got, "batch_size")
	assert.NotContains(t, got, "use_lora")
}

func TestJobsSubmit_File(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"job_id":"job-2","status":"started"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_name: gpt2\ndataset_path: d.json\n"), 0o644))

	out, err := runCLI(t, "jobs", "submit", "--server", srv.URL, "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "job-2\n", out)
	assert.Equal(t, "model_name: gpt2\ndataset_path: d.json\n", got["spec_yaml"])
}

func TestJobsSubmit_RequiresModel(t *testing.T) {
	_, err := runCLI(t, "jobs", "submit", "--server", "http://127.0.0.1:1", "--dataset", "d.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--model and --dataset are required")
}

func TestJobsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jobs":[{"job_id":"abc","status":"running","progress":25,"config":{"model_name":"gpt2"},"created_at":"2026-05-01T12:00:00Z"}]}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "jobs", "list", "--server", srv.URL)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "abc")
	assert.Contains(t, lines[1], "25.0%")
	assert.Contains(t, lines[1], "gpt2")
}

func TestJobsCancel_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Job not found"}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, "jobs", "cancel", "nope", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job not found")
}

func TestJobsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"job_id":"a","at":"2026-05-01T12:00:00Z","to_status":"pending","reason":"job_created"},
			{"job_id":"a","at":"2026-05-01T12:00:01Z","from_status":"pending","to_status":"running","reason":"execution_started"}
		]}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "jobs", "events", "a", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "job_created")
	assert.Contains(t, out, "execution_started")
	assert.Contains(t, out, "pending")
}

func TestDatasetsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"datasets":[{"name":"chat.jsonl","path":"data/chat.jsonl","size":120,"format":"jsonl"}]}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "datasets", "list", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "chat.jsonl")
	assert.Contains(t, out, "120")
}

func TestJobsArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tuning/jobs/a/artifacts", r.URL.Path)
		w.Write([]byte(`{"items":[{"type":"checkpoint","uri":"models/gpt2/checkpoint-500","step":500,"created_at":"2026-05-01T12:00:00Z"}]}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "jobs", "artifacts", "a", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "checkpoint-500")
	assert.Contains(t, out, "500")
}

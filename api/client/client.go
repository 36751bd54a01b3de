package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tunespace/core/models"
	"tunespace/core/spec"
)

// ErrNotFound is returned when the server answers 404
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to a running tunespace server
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying http client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// StartResponse is returned by StartTraining
type StartResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// StartTraining submits an inline training request
func (c *Client) StartTraining(ctx context.Context, ts spec.TrainingSpec) (*StartResponse, error) {
	var out StartResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/tuning/start", ts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartTrainingYAML submits a YAML training document
func (c *Client) StartTrainingYAML(ctx context.Context, doc string) (*StartResponse, error) {
	var out StartResponse
	body := map[string]string{"spec_yaml": doc}
	if err := c.doJSON(ctx, http.MethodPost, "/api/tuning/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (c *Client) ListJobs(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	path := "/api/tuning/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out struct {
		Jobs []models.Job `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// GetJob returns a single job
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/tuning/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob cancels a pending or running job
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/tuning/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// JobEvents returns the transition history of a job, oldest first
func (c *Client) JobEvents(ctx context.Context, id string, limit int) ([]models.JobEvent, error) {
	path := "/api/tuning/jobs/" + url.PathEscape(id) + "/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Items []models.JobEvent `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// JobArtifacts returns the checkpoints and saved model of a job
func (c *Client) JobArtifacts(ctx context.Context, id string) ([]models.JobArtifact, error) {
	var out struct {
		Items []models.JobArtifact `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/tuning/jobs/"+url.PathEscape(id)+"/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListDatasets returns the datasets stored on the server
func (c *Client) ListDatasets(ctx context.Context) ([]models.DatasetInfo, error) {
	var out struct {
		Datasets []models.DatasetInfo `json:"datasets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/data/datasets", nil, &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// UploadDataset uploads the local file at path and returns its server-side path
func (c *Client) UploadDataset(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/data/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Filename string `json:"filename"`
		Path     string `json:"path"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
			apiErr.Detail = body.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

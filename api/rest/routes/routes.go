package routes

import (
	"net/http"

	"tunespace/api/rest/handlers"
	"tunespace/api/rest/middleware"
	"tunespace/core/events"
	"tunespace/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Deps holds everything the HTTP API is built from. A nil Artifacts uses a
// CheckpointManager, a nil SubmitLimiter disables admission limiting and a nil
// MetricsHandler serves promhttp.Handler(). CORSOrigins lists the browser
// origins allowed to call the API.
type Deps struct {
	Jobs             handlers.JobService
	Events           events.Lister
	Datasets         handlers.DatasetStore
	Artifacts        handlers.ArtifactLister
	DefaultOutputDir string
	MaxUploadBytes   int64
	SubmitLimiter    *rate.Limiter
	MetricsHandler   http.Handler
	CORSOrigins      []string
	Log              *zerolog.Logger
}

// NewRouter builds the router with all API routes
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	SetupRoutes(r, d)
	return r
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, d Deps) {
	log := d.Log
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	artifacts := d.Artifacts
	if artifacts == nil {
		artifacts = storage.NewCheckpointManager()
	}

	jobHandler := handlers.NewJobHandler(d.Jobs, d.Events, artifacts, d.DefaultOutputDir, log)
	dashboardHandler := handlers.NewDashboardHandler(d.Jobs)
	datasetHandler := handlers.NewDatasetHandler(d.Datasets, d.MaxUploadBytes, log)

	r.Use(middleware.Recovery(log), middleware.Logger(log), middleware.CORS(d.CORSOrigins))

	tuning := r.PathPrefix("/api/tuning").Subrouter()
	tuning.Handle("/start", middleware.RateLimit(d.SubmitLimiter)(http.HandlerFunc(jobHandler.StartTraining))).Methods("POST")
	tuning.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	tuning.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	tuning.HandleFunc("/jobs/{id}", jobHandler.CancelJob).Methods("DELETE")
	tuning.HandleFunc("/jobs/{id}/cancel", jobHandler.CancelJob).Methods("POST")
	tuning.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")
	tuning.HandleFunc("/jobs/{id}/artifacts", jobHandler.GetJobArtifacts).Methods("GET")
	tuning.HandleFunc("/summary", dashboardHandler.GetSummary).Methods("GET")

	data := r.PathPrefix("/api/data").Subrouter()
	data.HandleFunc("/upload", datasetHandler.UploadDataset).Methods("POST")
	data.HandleFunc("/datasets", datasetHandler.ListDatasets).Methods("GET")

	metrics := d.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")

	// preflight requests for any API path; CORS answers the allowed ones
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

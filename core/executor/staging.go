package executor

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ObjectStore moves job inputs and outputs between remote storage and local disk
type ObjectStore interface {
	Download(ctx context.Context, uri, dest string) error
	UploadDir(ctx context.Context, src, uri string) error
}

// IsRemote reports whether p names an object store location
func IsRemote(p string) bool {
	return strings.HasPrefix(p, "s3://")
}

// Staging wraps an executor so jobs can read datasets from and write models to
// an object store. Remote paths are swapped for per-job local paths before the
// inner executor runs; the local output is uploaded only after success.
type Staging struct {
	inner TrainingExecutor
	store ObjectStore
	dir   string
	log   *zerolog.Logger
}

// NewStaging creates the staging decorator rooted at dir
func NewStaging(inner TrainingExecutor, store ObjectStore, dir string, log *zerolog.Logger) *Staging {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Staging{inner: inner, store: store, dir: dir, log: log}
}

// Train stages remote inputs, runs the inner executor and publishes remote outputs
func (s *Staging) Train(ctx context.Context, req TrainingRequest, progress ProgressFunc) (map[string]float64, error) {
	cfg := req.Config
	if !IsRemote(cfg.DatasetPath) && !IsRemote(cfg.OutputDir) {
		return s.inner.Train(ctx, req, progress)
	}

	logger := s.log.With().Str("job_id", req.JobID).Logger()
	jobDir := filepath.Join(s.dir, req.JobID)
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			logger.Warn().Err(err).Msg("failed to clean staging dir")
		}
	}()

	if IsRemote(cfg.DatasetPath) {
		local := filepath.Join(jobDir, "dataset", path.Base(cfg.DatasetPath))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, fmt.Errorf("creating staging dir: %w", err)
		}
		logger.Info().Str("uri", cfg.DatasetPath).Msg("downloading dataset")
		if err := s.store.Download(ctx, cfg.DatasetPath, local); err != nil {
			return nil, fmt.Errorf("downloading dataset %s: %w", cfg.DatasetPath, err)
		}
		cfg.DatasetPath = local
	}

	remoteOutput := ""
	if IsRemote(cfg.OutputDir) {
		remoteOutput = cfg.OutputDir
		cfg.OutputDir = filepath.Join(jobDir, "output")
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating staging dir: %w", err)
		}
	}

	staged := req
	staged.Config = cfg
	metrics, err := s.inner.Train(ctx, staged, progress)
	if err != nil {
		return nil, err
	}

	if remoteOutput != "" {
		logger.Info().Str("uri", remoteOutput).Msg("uploading model output")
		if err := s.store.UploadDir(ctx, cfg.OutputDir, remoteOutput); err != nil {
			return nil, fmt.Errorf("uploading model output to %s: %w", remoteOutput, err)
		}
	}
	return metrics, nil
}

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tunespace/core/models"
)

// ErrNoCheckpoint is returned when an output directory holds no checkpoint
var ErrNoCheckpoint = errors.New("no checkpoint found")

const checkpointPrefix = "checkpoint-"

// finalModelFiles mark a completed save_model() in the output root
var finalModelFiles = []string{
	"adapter_config.json",
	"adapter_model.safetensors",
	"config.json",
	"model.safetensors",
	"pytorch_model.bin",
}

// CheckpointManager inspects training output directories
type CheckpointManager struct{}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager() *CheckpointManager {
	return &CheckpointManager{}
}

// ListCheckpoints returns the checkpoint-<step> directories under outputDir
// ordered by step. A missing directory has no checkpoints.
func (cm *CheckpointManager) ListCheckpoints(outputDir string) ([]models.JobArtifact, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.JobArtifact{}, nil
		}
		return nil, fmt.Errorf("reading output dir: %w", err)
	}

	checkpoints := []models.JobArtifact{}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), checkpointPrefix) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimPrefix(e.Name(), checkpointPrefix))
		if err != nil || step < 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		checkpoints = append(checkpoints, models.JobArtifact{
			Type:      models.ArtifactTypeCheckpoint,
			URI:       filepath.Join(outputDir, e.Name()),
			Step:      step,
			CreatedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i].Step < checkpoints[j].Step })
	return checkpoints, nil
}

// GetLatestCheckpoint returns the checkpoint with the highest step
func (cm *CheckpointManager) GetLatestCheckpoint(outputDir string) (models.JobArtifact, error) {
	checkpoints, err := cm.ListCheckpoints(outputDir)
	if err != nil {
		return models.JobArtifact{}, err
	}
	if len(checkpoints) == 0 {
		return models.JobArtifact{}, fmt.Errorf("%w in %s", ErrNoCheckpoint, outputDir)
	}
	return checkpoints[len(checkpoints)-1], nil
}

// ListArtifacts returns every checkpoint plus the final model when one was saved
func (cm *CheckpointManager) ListArtifacts(outputDir string) ([]models.JobArtifact, error) {
	artifacts, err := cm.ListCheckpoints(outputDir)
	if err != nil {
		return nil, err
	}

	var saved time.Time
	for _, name := range finalModelFiles {
		info, err := os.Stat(filepath.Join(outputDir, name))
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().After(saved) {
			saved = info.ModTime()
		}
	}
	if !saved.IsZero() {
		artifacts = append(artifacts, models.JobArtifact{
			Type:      models.ArtifactTypeOutput,
			URI:       outputDir,
			CreatedAt: saved.UTC(),
		})
	}
	return artifacts, nil
}

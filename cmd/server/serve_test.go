package main

import (
	"context"
	"testing"

	"tunespace/config"
	"tunespace/core/executor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildExecutor_Simulated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.RequireDataset = false

	exec, err := buildExecutor(context.Background(), cfg, nil)
	require.NoError(t, err)
	sim, ok := exec.(*executor.Simulated)
	require.True(t, ok)
	assert.False(t, sim.RequireDataset)
	assert.Equal(t, cfg.Executor.StepInterval, sim.StepInterval)
}

func TestBuildExecutor_Subprocess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.Type = config.ExecutorSubprocess
	cfg.Executor.Command = []string{"python", "train.py"}

	cfg.HF.Token = "hf_abc"
	cfg.HF.CacheDir = "/srv/hf-cache"

	exec, err := buildExecutor(context.Background(), cfg, nil)
	require.NoError(t, err)
	sub, ok := exec.(*executor.Subprocess)
	require.True(t, ok)
	assert.Equal(t, "hf_abc", sub.Hub.Token)
	assert.Equal(t, "/srv/hf-cache", sub.Hub.CacheDir)
}

func TestBuildExecutor_StagingWhenS3Enabled(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := testConfig(t)
	cfg.S3.Enabled = true
	cfg.S3.Region = "us-east-1"
	cfg.S3.Endpoint = "http://localhost:9000"
	cfg.S3.ForcePathStyle = true
	cfg.S3.StagingDir = t.TempDir()

	exec, err := buildExecutor(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &executor.Staging{}, exec)
}

func TestBuildExecutor_Unknown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.Type = "slurm"

	_, err := buildExecutor(context.Background(), cfg, nil)
	assert.Error(t, err)
}

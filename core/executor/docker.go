package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"tunespace/training/frameworks"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

const (
	containerDataDir   = "/data"
	containerOutputDir = "/output"
	containerCacheDir  = "/cache"
)

// DockerAPI is the subset of the docker client used to run trainer containers
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Docker runs each job in a trainer container with the dataset and output
// directories bind-mounted. The container is always removed when the run ends.
type Docker struct {
	Image   string
	Command []string
	// StopTimeout is the grace period given to the trainer on cancellation
	StopTimeout time.Duration
	// Hub.CacheDir is a host directory mounted into the container as the model cache
	Hub frameworks.HubSettings

	client DockerAPI
	setup  *frameworks.HuggingFaceSetup
	log    *zerolog.Logger
}

// NewDockerClient connects to the docker daemon from the environment
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return cli, nil
}

// NewDocker creates a container executor
func NewDocker(api DockerAPI, image string, command []string, log *zerolog.Logger) (*Docker, error) {
	if image == "" {
		return nil, errors.New("docker executor requires an image")
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Docker{
		Image:       image,
		Command:     command,
		StopTimeout: 10 * time.Second,
		client:      api,
		setup:       &frameworks.HuggingFaceSetup{},
		log:         log,
	}, nil
}

// Train runs the trainer container and blocks until it exits
func (d *Docker) Train(ctx context.Context, req TrainingRequest, progress ProgressFunc) (map[string]float64, error) {
	logger := d.log.With().Str("job_id", req.JobID).Str("image", d.Image).Logger()

	hostDataset, err := filepath.Abs(req.Config.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("resolving dataset path: %w", err)
	}
	hostOutput, err := filepath.Abs(req.Config.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output dir: %w", err)
	}

	// the trainer sees container paths, the host paths are only used for binds
	cfg := req.Config
	cfg.DatasetPath = containerDataDir + "/" + filepath.Base(hostDataset)
	cfg.OutputDir = containerOutputDir
	args, err := d.setup.TrainerArgs(cfg)
	if err != nil {
		return nil, fmt.Errorf("building trainer args: %w", err)
	}

	binds := []string{
		filepath.Dir(hostDataset) + ":" + containerDataDir + ":ro",
		hostOutput + ":" + containerOutputDir,
	}
	hub := d.Hub
	if hub.CacheDir != "" {
		hostCache, err := filepath.Abs(hub.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("resolving cache dir: %w", err)
		}
		if err := os.MkdirAll(hostCache, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
		binds = append(binds, hostCache+":"+containerCacheDir)
		hub.CacheDir = containerCacheDir
	}

	logger.Info().Msg("creating container")
	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:  d.Image,
		Cmd:    append(append([]string{}, d.Command...), args...),
		Env:    frameworks.EnvList(hub.Apply(frameworks.Environment(req.JobID, cfg))),
		Labels: map[string]string{"tunespace.job_id": req.JobID},
	}, &container.HostConfig{Binds: binds}, nil, nil, "tunespace-"+req.JobID)
	if err != nil {
		return nil, fmt.Errorf("container create failed: %w", err)
	}

	id := resp.ID
	logger = logger.With().Str("container_id", id).Logger()
	defer d.remove(id, &logger)

	logger.Info().Msg("starting container")
	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("container start failed: %w", err)
	}

	res, streamErr := d.follow(ctx, id, progress, &logger)

	if ctx.Err() != nil {
		d.stop(id, &logger)
		return nil, ctx.Err()
	}

	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		d.stop(id, &logger)
		return nil, ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			d.stop(id, &logger)
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("container wait failed: %w", err)
	case result := <-statusCh:
		if result.StatusCode != 0 {
			logger.Warn().Int64("exit_code", result.StatusCode).Msg("container failed")
			return nil, trainerFailure(res.errorMsg, res.stderr, fmt.Errorf("container exited with code %d", result.StatusCode))
		}
	}

	if res.errorMsg != "" {
		return nil, errors.New(res.errorMsg)
	}
	if streamErr != nil {
		return nil, fmt.Errorf("reading container logs: %w", streamErr)
	}

	logger.Info().Msg("container completed successfully")
	return res.metrics, nil
}

type containerResult struct {
	streamResult
	stderr string
}

// follow demultiplexes the container log stream into the trainer protocol
func (d *Docker) follow(ctx context.Context, id string, progress ProgressFunc, logger *zerolog.Logger) (containerResult, error) {
	logs, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return containerResult{}, err
	}
	defer logs.Close()

	stdoutR, stdoutW := io.Pipe()
	stderr := newTailBuffer(4096)
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderr, logs)
		stdoutW.CloseWithError(err)
	}()

	res, err := consumeStream(stdoutR, progress, logger)
	// unblock StdCopy if the scanner stopped early
	stdoutR.Close()
	return containerResult{streamResult: res, stderr: stderr.String()}, err
}

func (d *Docker) stop(id string, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), d.StopTimeout+5*time.Second)
	defer cancel()

	timeout := int(d.StopTimeout.Seconds())
	logger.Info().Msg("stopping container")
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		logger.Warn().Err(err).Msg("failed to stop container")
	}
}

func (d *Docker) remove(id string, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		logger.Warn().Err(err).Msg("failed to remove container")
	}
}

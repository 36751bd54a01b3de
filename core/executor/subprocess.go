package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"tunespace/training/frameworks"

	"github.com/rs/zerolog"
)

// Subprocess runs each job as a local trainer process.
//
// The trainer receives the job's hyperparameters as transformers-style flags
// appended to Command and reports back over the stdout line protocol.
type Subprocess struct {
	Command []string
	WorkDir string
	// WaitDelay bounds how long output pipes are drained after the process is killed
	WaitDelay time.Duration
	Hub       frameworks.HubSettings

	setup    *frameworks.HuggingFaceSetup
	launcher *frameworks.PyTorchSetup
	log      *zerolog.Logger
}

// NewSubprocess creates a subprocess executor. nproc > 1 launches the trainer through torchrun.
func NewSubprocess(command []string, workDir string, nproc int, log *zerolog.Logger) (*Subprocess, error) {
	if len(command) == 0 {
		return nil, errors.New("subprocess executor requires a command")
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Subprocess{
		Command:   command,
		WorkDir:   workDir,
		WaitDelay: 5 * time.Second,
		setup:     &frameworks.HuggingFaceSetup{},
		launcher:  &frameworks.PyTorchSetup{NProcPerNode: nproc},
		log:       log,
	}, nil
}

// Train starts the trainer and blocks until it exits. Cancelling ctx kills the
// trainer together with every process it started.
func (s *Subprocess) Train(ctx context.Context, req TrainingRequest, progress ProgressFunc) (map[string]float64, error) {
	args, err := s.setup.TrainerArgs(req.Config)
	if err != nil {
		return nil, fmt.Errorf("building trainer args: %w", err)
	}
	argv := s.launcher.Wrap(append(append([]string{}, s.Command...), args...))

	logger := s.log.With().Str("job_id", req.JobID).Logger()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.WorkDir
	cmd.Env = append(os.Environ(), frameworks.EnvList(s.Hub.Apply(frameworks.Environment(req.JobID, req.Config)))...)
	cmd.WaitDelay = s.WaitDelay
	setProcessGroup(cmd)

	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	logger.Info().Strs("argv", argv).Msg("starting trainer process")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting trainer: %w", err)
	}

	res, scanErr := consumeStream(stdout, progress, &logger)
	if scanErr != nil {
		// keep the pipe drained so the process can exit
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Info().Msg("trainer process stopped by cancellation")
		return nil, ctxErr
	}

	if waitErr != nil {
		return nil, trainerFailure(res.errorMsg, stderr.String(), waitErr)
	}
	if res.errorMsg != "" {
		return nil, errors.New(res.errorMsg)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("reading trainer output: %w", scanErr)
	}

	logger.Info().Int("metrics", len(res.metrics)).Msg("trainer process finished")
	return res.metrics, nil
}

// trainerFailure picks the most specific description of a failed run
func trainerFailure(reported, stderrTail string, exitErr error) error {
	switch {
	case reported != "":
		return errors.New(reported)
	case stderrTail != "":
		return fmt.Errorf("trainer exited: %v: %s", exitErr, stderrTail)
	default:
		return fmt.Errorf("trainer exited: %w", exitErr)
	}
}

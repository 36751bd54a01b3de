package executor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellTrainer(t *testing.T, script string) *Subprocess {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	s, err := NewSubprocess([]string{"sh", "-c", script}, "", 0, nil)
	require.NoError(t, err)
	return s
}

func TestNewSubprocess_RequiresCommand(t *testing.T) {
	_, err := NewSubprocess(nil, "", 0, nil)
	assert.Error(t, err)
}

func TestSubprocess_Success(t *testing.T) {
	s := shellTrainer(t, `
echo "loading"
echo '{"event":"progress","step":1,"total_steps":2}'
echo '{"event":"progress","step":2,"total_steps":2}'
echo '{"event":"metrics","metrics":{"train_loss":0.25}}'
`)
	rec := &progressRecorder{}

	metrics, err := s.Train(context.Background(), testRequest(t), rec.record)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"train_loss": 0.25}, metrics)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, rec.all())
}

func TestSubprocess_ReceivesJobEnvironment(t *testing.T) {
	s := shellTrainer(t, `echo "{\"event\":\"error\",\"message\":\"$TUNESPACE_JOB_ID\"}"; exit 3`)

	_, err := s.Train(context.Background(), testRequest(t), nil)
	assert.EqualError(t, err, "job-1")
}

func TestSubprocess_FailureUsesReportedMessage(t *testing.T) {
	s := shellTrainer(t, `echo '{"event":"error","message":"dataset not found"}'; echo boom >&2; exit 1`)

	_, err := s.Train(context.Background(), testRequest(t), nil)
	assert.EqualError(t, err, "dataset not found")
}

func TestSubprocess_FailureFallsBackToStderr(t *testing.T) {
	s := shellTrainer(t, `echo "Traceback: KeyError 'text'" >&2; exit 2`)

	_, err := s.Train(context.Background(), testRequest(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KeyError 'text'")
	assert.Contains(t, err.Error(), "exit status 2")
}

func TestSubprocess_FailureWithoutOutput(t *testing.T) {
	s := shellTrainer(t, `exit 4`)

	_, err := s.Train(context.Background(), testRequest(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 4")
}

func TestSubprocess_ErrorEventWithCleanExit(t *testing.T) {
	s := shellTrainer(t, `echo '{"event":"error","message":"no samples"}'`)

	_, err := s.Train(context.Background(), testRequest(t), nil)
	assert.EqualError(t, err, "no samples")
}

func TestSubprocess_CancelKillsProcess(t *testing.T) {
	s := shellTrainer(t, `echo '{"event":"progress","step":1,"total_steps":100}'; sleep 30`)
	s.WaitDelay = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := s.Train(ctx, testRequest(t), func(int, int) {
			select {
			case started <- struct{}{}:
			default:
			}
		})
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("trainer never reported progress")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("trainer was not killed on cancellation")
	}
}

func TestSubprocess_PassesHubSettings(t *testing.T) {
	s := shellTrainer(t, `echo "{\"event\":\"error\",\"message\":\"$HF_TOKEN $HF_HUB_CACHE\"}"`)
	s.Hub.Token = "hf_abc"
	s.Hub.CacheDir = "/tmp/hf"

	_, err := s.Train(context.Background(), testRequest(t), nil)
	assert.EqualError(t, err, "hf_abc /tmp/hf")
}

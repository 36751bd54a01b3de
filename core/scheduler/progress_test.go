package scheduler

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"tunespace/core/models"
	"tunespace/core/registry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressFunc_ThrottlesLogging(t *testing.T) {
	reg := registry.New()
	s := NewScheduler(reg, succeed(nil))
	id := reg.Create(models.DefaultTrainingConfig())
	_, err := reg.Update(id, func(j *models.Job) error { return j.MarkRunning(time.Now()) })
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	progress := s.progressFunc(id, 10, &logger)

	for step := 1; step <= 35; step++ {
		progress(step, 100)
	}

	assert.Equal(t, 3, strings.Count(buf.String(), "training progress"))

	job, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 35, job.CurrentStep)
	assert.Equal(t, 35.0, job.Progress)
}

func TestProgressFunc_IgnoresUnknownJob(t *testing.T) {
	s := NewScheduler(registry.New(), succeed(nil))
	logger := zerolog.Nop()

	assert.NotPanics(t, func() {
		s.progressFunc("gone", 1, &logger)(1, 1)
	})
}

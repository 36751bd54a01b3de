package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tunespace/core/models"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisher_RecordEvent(t *testing.T) {
	fake := &fakeRedis{}
	p := &RedisPublisher{cli: fake, channel: DefaultChannel}

	from := models.JobStatusPending
	ev := models.NewTransitionEvent("job-1", &from, models.JobStatusRunning, models.ReasonExecutionStarted, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, p.RecordEvent(context.Background(), ev))

	assert.Equal(t, "tunespace:job_events", fake.channel)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.payload, &got))
	assert.Equal(t, "job-1", got["job_id"])
	assert.Equal(t, "pending", got["from_status"])
	assert.Equal(t, "running", got["to_status"])
	assert.Equal(t, "execution_started", got["reason"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got["at"])
}

func TestRedisPublisher_PublishError(t *testing.T) {
	p := &RedisPublisher{cli: &fakeRedis{err: errors.New("READONLY")}, channel: "c"}

	err := p.RecordEvent(context.Background(), models.NewTransitionEvent("j", nil, models.JobStatusPending, models.ReasonJobCreated, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
}

func TestNewRedisPublisher_BadURL(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), "http://not-redis", "")
	assert.Error(t, err)
}

func TestRedisPublisher_CloseWithoutClient(t *testing.T) {
	assert.NoError(t, (&RedisPublisher{}).Close())
}

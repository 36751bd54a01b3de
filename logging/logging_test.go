package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json")

	logger.Debug().Str("k", "v").Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "v", line["k"])
	assert.Contains(t, line, "time")
}

func TestNewLogger_Levels(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, newLogger(&bytes.Buffer{}, "WARN", "json").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(&bytes.Buffer{}, "verbose", "json").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(&bytes.Buffer{}, "", "json").GetLevel())
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "error", "json")
	logger.Info().Msg("skipped")
	assert.Zero(t, buf.Len())
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "console")
	logger.Info().Msg("readable")
	assert.Contains(t, buf.String(), "readable")
	assert.NotContains(t, buf.String(), `"message"`)
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log := New()
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestNewFromConfig_JSONAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewFromConfig("warn", "json", buf)

	log.Info().Msg("hidden")
	log.Warn().Str("run_id", "r1").Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestNewFromConfig_UnknownLevelIsInfo(t *testing.T) {
	log := NewFromConfig("chatty", "console", &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestWithContext(t *testing.T) {
	ctx := WithContext(context.Background(), New())
	assert.NotNil(t, ctx.Value(LoggerKey))
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	retrieved := FromContext(ctx)
	retrieved.Info().Msg("test")

	assert.NotZero(t, buf.Len())
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"business_id": "b-123",
		"filename":    "jan.csv",
	})
	log.Info().Msg("test message")

	out := buf.String()
	assert.Contains(t, out, `"business_id":"b-123"`)
	assert.Contains(t, out, `"filename":"jan.csv"`)
}

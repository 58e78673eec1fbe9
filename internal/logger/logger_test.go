package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/cachekit/internal/logger"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{
		Format: logger.FormatJSON,
		Level:  slog.LevelDebug,
		Output: &buf,
		Attrs:  []slog.Attr{logger.Component("test")},
	})
	log.Debug("hello", logger.Key("k1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "test", rec["component"])
	assert.Equal(t, "k1", rec["key"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Level: slog.LevelWarn, Output: &buf})
	log.Info("dropped")
	assert.Zero(t, buf.Len())
	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logger.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("bogus"))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestOrDiscard(t *testing.T) {
	l := logger.OrDiscard(nil)
	require.NotNil(t, l)
	assert.False(t, l.Enabled(t.Context(), slog.LevelError))
}

package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("debug", "test", true, &buf)

	logger.Info("hello", "channel", 6, "error", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, float64(6), entry["channel"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerMapFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("info", "test", true, &buf)

	logger.Warn("mapped", map[string]interface{}{"broker": "localhost"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "localhost", entry["broker"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("warn", "test", false, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, logger.IsDebug())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestPerformanceLoggerStats(t *testing.T) {
	var buf bytes.Buffer
	pl := NewPerformanceLogger(NewLoggerWithOutput("info", "test", false, &buf), 0)

	pl.Start("predict").Done(nil)
	pl.Start("predict").Done(errors.New("storage down"))
	pl.Start("alerts").Done(nil)

	stats := pl.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "alerts", stats[0].Name)
	assert.Equal(t, "predict", stats[1].Name)
	assert.Equal(t, int64(2), stats[1].Count)
	assert.Equal(t, int64(1), stats[1].ErrorCount)
	assert.Equal(t, int64(0), stats[1].InFlight)
	assert.Contains(t, buf.String(), "storage down")
}

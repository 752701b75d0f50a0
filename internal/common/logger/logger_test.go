package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapter_FieldsAreSortedAndTyped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core))

	log.Info("query handled", map[string]interface{}{
		"intent":     "descriptive",
		"confidence": 0.93,
		"error":      errors.New("visualizer down"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].Context
	require.Len(t, fields, 3)
	assert.Equal(t, "confidence", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
	assert.Equal(t, zapcore.ErrorType, fields[1].Type)
	assert.Equal(t, "intent", fields[2].Key)
}

func TestZapAdapter_WithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewZapAdapter(zap.New(core)).With(map[string]interface{}{"taskType": "answer-financial-query"})

	log.Debug("dropped", nil)
	log.Warn("degraded", map[string]interface{}{"collection": "accounts"})
	log.WithError(errors.New("boom")).Error("failed", nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "answer-financial-query", entries[0].ContextMap()["taskType"])
	assert.Equal(t, "accounts", entries[0].ContextMap()["collection"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestNew_Levels(t *testing.T) {
	assert.True(t, New("debug", "json").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("warn", "console").Core().Enabled(zapcore.InfoLevel))
	assert.True(t, New("unknown", "json").Core().Enabled(zapcore.InfoLevel))
}

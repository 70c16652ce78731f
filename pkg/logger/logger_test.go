package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceLoggerRoutesGlobalCalls(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev; zapLogger = nil })

	ReplaceLogger(zap.New(core))

	Infof("loaded %d skills", 3)
	Warnw("cache evicted", "skill", "doubler")
	Debugw("stage done", "stage", "compile", "ms", 4)

	entries := logs.All()
	assert.Len(t, entries, 3)
	assert.Equal(t, "loaded 3 skills", entries[0].Message)
	assert.Equal(t, "cache evicted", entries[1].Message)
	assert.Equal(t, "doubler", entries[1].ContextMap()["skill"])
	assert.Equal(t, zap.DebugLevel, entries[2].Level)
}

func TestNoOpLoggerBeforeConfiguration(t *testing.T) {
	assert.NotPanics(t, func() {
		noOpLogger{}.Errorw("x", "k", "v")
		noOpLogger{}.Infof("x")
	})
	assert.NotNil(t, Named("sandbox"))
}

package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInit_ValidLevel(t *testing.T) {
	Init("debug", false)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Init("warn", false)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	Init("not-a-level", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestGet_ReturnsLogger(t *testing.T) {
	Init("info", false)
	assert.NotNil(t, Get())
}

func TestScopedLoggers(t *testing.T) {
	Init("info", false)

	// Scoped loggers must be usable without panicking
	comp := WithComponent("queue")
	comp.Info().Msg("component log")
	worker := WithWorker("worker-abc")
	worker.Info().Msg("worker log")
	taskLog := WithTask("task-123")
	taskLog.Info().Msg("task log")
}

func TestConvenienceMethods(t *testing.T) {
	Init("info", true)

	// Debug is below the configured info level, so zerolog hands back a nil event
	assert.Nil(t, Debug())
	assert.NotNil(t, Info())
	assert.NotNil(t, Warn())
	assert.NotNil(t, Error())
}

package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"coachflow/pkg/logging"
)

func observed() (*SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &SugaredLogger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		log, err := New("debug", format)
		require.NoError(t, err)
		assert.NotNil(t, log)
	}
}

func TestInfowCtx_AddsContextFields(t *testing.T) {
	log, logs := observed()

	ctx := logging.WithMessageID(context.Background(), "msg-1")
	ctx = logging.WithEventName(ctx, "lead_created")
	log.InfowCtx(ctx, "processing", "rules", 2)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "msg-1", fields["message_id"])
	assert.Equal(t, "lead_created", fields["event_name"])
	assert.EqualValues(t, 2, fields["rules"])
}

func TestServiceNameFallback(t *testing.T) {
	log, logs := observed()
	log.SetServiceName("rule-engine")

	log.WarnwCtx(context.Background(), "no service in ctx")
	log.WarnwCtx(logging.WithServiceName(context.Background(), "other"), "service in ctx")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "rule-engine", logs.All()[0].ContextMap()["service_name"])
	assert.Equal(t, "other", logs.All()[1].ContextMap()["service_name"])
}

func TestWith(t *testing.T) {
	log, logs := observed()
	child := log.With("component", "dispatcher")

	child.ErrorwCtx(context.Background(), "boom")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "dispatcher", logs.All()[0].ContextMap()["component"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := New("verbose", "json")
	require.NoError(t, err)

	sl, ok := log.(*SugaredLogger)
	require.True(t, ok)
	assert.False(t, sl.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, sl.Desugar().Core().Enabled(zapcore.InfoLevel))
}

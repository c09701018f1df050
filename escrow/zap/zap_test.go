//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(level)

	return &Logger{logger: zap.New(core)}, observed
}

func TestLoggerNilReceiverFallsBackToNop(t *testing.T) {
	var nilLogger *Logger

	assert.NotPanics(t, func() {
		nilLogger.Log(context.Background(), logpkg.LevelInfo, "message")
	})
}

func TestLogDispatchesLevels(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "debug")
	logger.Log(ctx, logpkg.LevelInfo, "info", logpkg.Uint64("payment_id", 9))
	logger.Log(ctx, logpkg.LevelWarn, "warn")
	logger.Log(ctx, logpkg.LevelError, "error", logpkg.Err(errors.New("boom")))

	entries := observed.All()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, uint64(9), entries[1].ContextMap()["payment_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestLogSanitizesControlCharacters(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.InfoLevel)

	logger.Log(context.Background(), logpkg.LevelInfo, "line1\nline2", logpkg.String("who", "a\tb"))

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, `line1\nline2`, entries[0].Message)
	assert.Equal(t, `a\tb`, entries[0].ContextMap()["who"])
}

func TestLogAddsTraceCorrelation(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.InfoLevel)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Log(ctx, logpkg.LevelInfo, "correlated")

	fields := observed.All()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}

func TestWithAndEnabled(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.InfoLevel)

	child := logger.With(logpkg.String("component", "engine"))
	child.Log(context.Background(), logpkg.LevelInfo, "hello")

	assert.True(t, logger.Enabled(logpkg.LevelInfo))
	assert.False(t, logger.Enabled(logpkg.LevelDebug))
	assert.Equal(t, "engine", observed.All()[0].ContextMap()["component"])
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "missing library", cfg: Config{Environment: EnvironmentLocal}, wantErr: true},
		{name: "bad environment", cfg: Config{Environment: "moon", OTelLibraryName: "escrow"}, wantErr: true},
		{name: "bad level", cfg: Config{Environment: EnvironmentLocal, OTelLibraryName: "escrow", Level: "loud"}, wantErr: true},
		{name: "production", cfg: Config{Environment: EnvironmentProduction, OTelLibraryName: "escrow"}},
		{name: "local explicit level", cfg: Config{Environment: EnvironmentLocal, OTelLibraryName: "escrow", Level: "warn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, level, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.Equal(t, level, logger.Level())
		})
	}
}

func TestResolveLevelDefaults(t *testing.T) {
	level, err := resolveLevel(Config{Environment: EnvironmentDevelopment})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	level, err = resolveLevel(Config{Environment: EnvironmentProduction})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}

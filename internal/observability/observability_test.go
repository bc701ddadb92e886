package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "defaults", want: zapcore.InfoLevel},
		{name: "json debug", level: "debug", format: "json", want: zapcore.DebugLevel},
		{name: "text warn", level: "warn", format: "text", want: zapcore.WarnLevel},
		{name: "bad level", level: "loud", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, level, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.Equal(t, tt.want, level.Level())
		})
	}
}

func TestLogExporter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogExporter(zap.New(core))))

	_, span := provider.Tracer("test").Start(context.Background(), "governance.evaluate")
	span.SetAttributes(attribute.Bool("verdict.valid", true))
	span.End()
	require.NoError(t, provider.Shutdown(context.Background()))

	entries := logs.FilterMessage("span finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "governance.evaluate", fields["span"])
	assert.Equal(t, "true", fields["attr.verdict.valid"])
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(false, "matrix-governance", zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviderDefaults(t *testing.T) {
	p, err := NewProvider(Config{ServiceVersion: "test"})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	tracer := p.Tracer("switchboard/test")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "gateway.find")
	span.End()

	// The provider is installed globally for otel.Tracer users.
	assert.Same(t, p.tp, otel.GetTracerProvider())
}

func TestSpansReachExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(&buf))
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("switchboard/test").Start(context.Background(), "gateway.run")
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	assert.Contains(t, buf.String(), "gateway.run")
}

func TestShutdownIdempotent(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))
	// A second shutdown must not panic; the SDK reports it quietly.
	_ = p.Shutdown(context.Background())
}

package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "spacecast", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSpanHelpers_NoProvider(t *testing.T) {
	ctx := context.Background()

	ctx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, span)
	defer span.End()

	AddSpanAttributes(ctx, attribute.String("test.key", "value"))
	RecordError(ctx, errors.New("boom"))
	SetSpanStatus(ctx, codes.Ok, "done")
	MeasureDuration(ctx, time.Now().Add(-time.Millisecond), "test")
}

func TestDomainSpans(t *testing.T) {
	ctx := context.Background()

	_, s1 := TraceSignaling(ctx, "attach", "room-1")
	s1.End()
	_, s2 := TracePipeline(ctx, "transcribe", "user-1")
	s2.End()
	_, s3 := TraceBroadcastCall(ctx, "createBroadcast")
	s3.End()
	_, s4 := TraceHTTPRequest(ctx, "GET", "/health")
	s4.End()
}

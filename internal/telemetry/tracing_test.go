package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "harvester-test"}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	ctx, parent := StartSpan(ctx, "harvest.run", "run_id", "r1")
	_, child := StartSpan(ctx, "extract.page", "link", "https://example.edu/p/1", "dangling")
	EndSpan(child, errors.New("navigate failed"))
	EndSpan(parent, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "extract.page", spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, []attribute.KeyValue{attribute.String("link", "https://example.edu/p/1")}, spans[0].Attributes())
	require.Len(t, spans[0].Events(), 1)

	assert.Equal(t, "harvest.run", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	v, ok := spans[1].Resource().Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "harvester-test", v.AsString())
}

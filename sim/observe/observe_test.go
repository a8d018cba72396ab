package observe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/inference-sim/simkernel/sim"
	simtestutil "github.com/inference-sim/simkernel/sim/internal/testutil"
)

var _ sim.Observer = (*Collector)(nil)

func TestCollector_RecordsKernelActivity(t *testing.T) {
	// GIVEN a kernel reporting to a collector on a private registry
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	o := simtestutil.NewKernel(t, sim.Options{})
	o.SetObserver(c)
	p, _ := simtestutil.NewProbe(o.Runtime(), nil, "probe")
	require.NoError(t, p.Start())
	o.ScheduleNow("Pause", func() error { return nil })
	o.Schedule(simtestutil.Epoch.Add(time.Hour), "Broken", func() error { return errors.New("nope") })

	// WHEN it runs into the failing command
	require.NoError(t, o.Tick())
	err = o.Tick()

	// THEN ticks, object counts and command outcomes are exported
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TicksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Objects.WithLabelValues("agent")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Objects.WithLabelValues("metric")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CommandsTotal.WithLabelValues("Pause", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CommandsTotal.WithLabelValues("Broken", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.TickDuration))
}

func TestCollector_RegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	require.NoError(t, err)
	b, err := NewCollector(reg)
	require.NoError(t, err)

	a.TickCompleted(time.Millisecond)
	b.TickCompleted(time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.TicksTotal))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	c.TickCompleted(time.Second)
	c.ObjectCount("agent", 3)
	c.CommandExecuted("Stop", nil)
	c.SnapshotSaved(time.Second)
	assert.Nil(t, c.Gatherer())
}

func TestCollector_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.ObjectCount("agent", 5)
	c.SnapshotSaved(20 * time.Millisecond)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `simkernel_objects{role="agent"} 5`), body)
	assert.Contains(t, body, "simkernel_snapshot_duration_seconds_count 1")
}

func TestRun_EmitsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	o := simtestutil.NewKernel(t, sim.Options{End: simtestutil.Epoch.Add(3 * time.Hour)})
	require.NoError(t, o.Run(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "orchestrator.run", spans[0].Name)
}

func TestInitTracing_StdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	var buf bytes.Buffer

	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Writer: &buf, ExperimentID: "exp-1"})
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(context.Background(), "probe-span")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown)

	assert.Contains(t, buf.String(), "probe-span")
	assert.Contains(t, buf.String(), "exp-1")
}

func TestInitTracing_Disabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	_, span := otel.Tracer("test").Start(context.Background(), "ignored")
	assert.False(t, span.SpanContext().IsValid())
}

package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
	}
	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want.ToSlice() {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestSessionLifecycleMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionStart(ctx, "piper", false)
	m.RecordSessionStart(ctx, "piper", true)
	m.RecordSessionStart(ctx, "polly", false)
	m.RecordFirstAudio(ctx, "piper", 120*time.Millisecond)
	m.RecordSessionEnd(ctx, "piper", "finished", "")
	m.RecordSessionEnd(ctx, "polly", "errored", "AUTHENTICATION_REJECTED")

	rm := collect(t, reader)

	tests := []struct {
		name   string
		metric string
		attrs  []attribute.KeyValue
		want   int64
	}{
		{"all starts", "insight_tts.sessions.started", nil, 3},
		{"cached starts", "insight_tts.sessions.started", []attribute.KeyValue{attribute.Bool("cached", true)}, 1},
		{"finished", "insight_tts.sessions.outcomes", []attribute.KeyValue{attribute.String("state", "finished")}, 1},
		{"errored", "insight_tts.sessions.outcomes", []attribute.KeyValue{attribute.String("state", "errored")}, 1},
		{"auth errors", "insight_tts.adapter.errors", []attribute.KeyValue{attribute.String("code", "AUTHENTICATION_REJECTED")}, 1},
		{"piper errors", "insight_tts.adapter.errors", []attribute.KeyValue{attribute.String("provider", "piper")}, 0},
		{"active", "insight_tts.sessions.active", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sumWith(t, rm, tt.metric, tt.attrs...); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.metric, got, tt.want)
			}
		})
	}

	h := findMetric(rm, "insight_tts.time_to_first_audio")
	if h == nil {
		t.Fatal("time_to_first_audio not found")
	}
	hist, ok := h.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("histogram data = %+v", h.Data)
	}
	if got := hist.DataPoints[0].Sum; got < 0.119 || got > 0.121 {
		t.Errorf("histogram sum = %f, want 0.12", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordSessionStart(ctx, "mock", false)
	m.RecordFirstAudio(ctx, "mock", time.Second)
	m.RecordSessionEnd(ctx, "mock", "stopped", "")
}

func TestProviderHandler(t *testing.T) {
	ctx := context.Background()
	p, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	p.Metrics.RecordSessionStart(ctx, "mock", false)

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), "insight_tts_sessions_started") {
		t.Errorf("scrape output lacks the session counter:\n%s", body)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ctx := context.Background()
	p, err := InitProvider(ctx, ProviderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	serveCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- p.Serve(serveCtx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

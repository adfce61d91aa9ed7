// Package observe holds the metric instruments recorded by playback sessions
// and the optional Prometheus endpoint that exposes them.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dgnsrekt/insight-tts"

// firstAudioBuckets are histogram boundaries in seconds for the delay
// between a speak request and the first audible sample.
var firstAudioBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// Metrics holds the session instruments.
type Metrics struct {
	// SessionsStarted counts speak requests by provider and whether they
	// were served from the replay cache.
	SessionsStarted metric.Int64Counter

	// SessionOutcomes counts sessions by provider and terminal state.
	SessionOutcomes metric.Int64Counter

	// AdapterErrors counts errored sessions by provider and error code.
	AdapterErrors metric.Int64Counter

	// TimeToFirstAudio records the delay until a session starts playing.
	TimeToFirstAudio metric.Float64Histogram

	// ActiveSessions is the number of sessions that have not ended.
	ActiveSessions metric.Int64UpDownCounter
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.SessionsStarted, err = m.Int64Counter("insight_tts.sessions.started",
		metric.WithDescription("Total speak requests by provider."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("insight_tts.sessions.outcomes",
		metric.WithDescription("Total ended sessions by provider and final state."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("insight_tts.adapter.errors",
		metric.WithDescription("Total errored sessions by provider and error code."),
	); err != nil {
		return nil, err
	}
	if met.TimeToFirstAudio, err = m.Float64Histogram("insight_tts.time_to_first_audio",
		metric.WithDescription("Delay between a speak request and the first played sample."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(firstAudioBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("insight_tts.sessions.active",
		metric.WithDescription("Number of sessions that have not ended."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics bound to the global
// meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSessionStart counts a new session and marks it active.
func (m *Metrics) RecordSessionStart(ctx context.Context, provider string, cached bool) {
	if m == nil {
		return
	}
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("cached", cached),
	))
	m.ActiveSessions.Add(ctx, 1)
}

// RecordFirstAudio records the delay until playback began.
func (m *Metrics) RecordFirstAudio(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstAudio.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordSessionEnd counts the terminal state of a session. code is empty
// unless the session errored.
func (m *Metrics) RecordSessionEnd(ctx context.Context, provider, state, code string) {
	if m == nil {
		return
	}
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
	if code != "" {
		m.AdapterErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("code", code),
		))
	}
	m.ActiveSessions.Add(ctx, -1)
}

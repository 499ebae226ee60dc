// Package metrics exposes the delivery pipeline's observability surface on
// the global OpenTelemetry meter: fanout outcomes, fanout duration by
// follower-count range, retry-queue depth, and breaker state per call site.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	ResultSuccess          = "success"
	ResultError            = "error"
	ResultSkippedCelebrity = "skipped_celebrity"
	ResultDeduped          = "deduped"
	ResultAuthorMissing    = "author_missing"
)

// Metrics holds the instrument handles. Constructed once and injected.
type Metrics struct {
	fanoutOutcome  metric.Int64Counter
	fanoutDuration metric.Float64Histogram
	trendEvents    metric.Int64Counter

	queueDepth   atomic.Int64
	breakerState sync.Map // call site -> *atomic.Int64 (0 closed, 1 half-open, 2 open)
}

func New() (*Metrics, error) {
	meter := otel.Meter("github.com/d60-Lab/feed-service")

	m := &Metrics{}
	var err error
	if m.fanoutOutcome, err = meter.Int64Counter("fanout_outcome_total",
		metric.WithDescription("fanout results by outcome")); err != nil {
		return nil, err
	}
	if m.fanoutDuration, err = meter.Float64Histogram("fanout_duration_seconds",
		metric.WithDescription("fanout wall time, attributed by follower-count range")); err != nil {
		return nil, err
	}
	if m.trendEvents, err = meter.Int64Counter("trending_events_total",
		metric.WithDescription("events consumed by the trending aggregator")); err != nil {
		return nil, err
	}

	depthGauge, err := meter.Int64ObservableGauge("retry_queue_depth",
		metric.WithDescription("jobs waiting in the fanout retry queue"))
	if err != nil {
		return nil, err
	}
	stateGauge, err := meter.Int64ObservableGauge("circuit_breaker_state",
		metric.WithDescription("0 closed, 1 half-open, 2 open"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(depthGauge, m.queueDepth.Load())
		m.breakerState.Range(func(k, v any) bool {
			o.ObserveInt64(stateGauge, v.(*atomic.Int64).Load(),
				metric.WithAttributes(attribute.String("call_site", k.(string))))
			return true
		})
		return nil
	}, depthGauge, stateGauge)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) FanoutOutcome(ctx context.Context, result string) {
	m.fanoutOutcome.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) FanoutDuration(ctx context.Context, seconds float64, followers int) {
	m.fanoutDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("follower_range", followerRange(followers))))
}

func (m *Metrics) TrendEvent(ctx context.Context, kind string) {
	m.trendEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) SetQueueDepth(n int64) { m.queueDepth.Store(n) }

func (m *Metrics) SetBreakerState(callSite string, state int64) {
	v, _ := m.breakerState.LoadOrStore(callSite, &atomic.Int64{})
	v.(*atomic.Int64).Store(state)
}

func followerRange(n int) string {
	switch {
	case n == 0:
		return "0"
	case n < 100:
		return "1-99"
	case n < 1000:
		return "100-999"
	case n < 10000:
		return "1k-10k"
	default:
		return "10k+"
	}
}

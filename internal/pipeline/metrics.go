package pipeline

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/vdogen/internal/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope of the pipeline instruments.
const MeterName = "github.com/kiranshivaraju/vdogen/internal/pipeline"

// Metrics holds the pipeline counters.
type Metrics struct {
	meter         metric.Meter
	submissions   metric.Int64Counter
	generations   metric.Int64Counter
	renders       metric.Int64Counter
	regenerations metric.Int64Counter
	pollTimeouts  metric.Int64Counter
}

// NewMetrics creates the pipeline instruments on mp.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{meter: meter}

	m.submissions = counter(meter, "vdogen.submissions", "Videos accepted by the front door", "{video}")
	m.generations = counter(meter, "vdogen.generation.outcomes", "Generation attempts by outcome", "{attempt}")
	m.renders = counter(meter, "vdogen.render.outcomes", "Finished render jobs by outcome", "{job}")
	m.regenerations = counter(meter, "vdogen.regenerations", "Failed renders retried with corrected code", "{video}")
	m.pollTimeouts = counter(meter, "vdogen.poll.timeouts", "Render jobs abandoned after their deadline", "{job}")

	return m
}

// NewNoopMetrics returns metrics that record nothing.
func NewNoopMetrics() *Metrics {
	return NewMetrics(noop.NewMeterProvider())
}

// counter falls back to an undescribed instrument if the options are rejected.
func counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		c, _ = meter.Int64Counter(name)
	}
	return c
}

func (m *Metrics) RecordSubmission(ctx context.Context, newConversation bool) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("conversation.new", newConversation)))
}

// RecordGeneration counts a generation attempt ending in outcome (the status it left the
// video in).
func (m *Metrics) RecordGeneration(ctx context.Context, outcome string) {
	m.generations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordRender(ctx context.Context, outcome string) {
	m.renders.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordRegeneration(ctx context.Context) {
	m.regenerations.Add(ctx, 1)
}

func (m *Metrics) RecordPollTimeout(ctx context.Context) {
	m.pollTimeouts.Add(ctx, 1)
}

// QueueStats is a queue that can report its depth.
type QueueStats interface {
	Name() string
	Stats(ctx context.Context) (queue.Stats, error)
}

// ObserveQueues reports the depth of each queue, by state, as the vdogen.queue.depth
// gauge. A queue whose stats cannot be read is skipped for that collection.
func (m *Metrics) ObserveQueues(queues ...QueueStats) (metric.Registration, error) {
	depth, err := m.meter.Int64ObservableGauge("vdogen.queue.depth",
		metric.WithDescription("Queued messages by queue and state"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("creating queue depth gauge: %w", err)
	}

	return m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, q := range queues {
			stats, err := q.Stats(ctx)
			if err != nil {
				continue
			}
			name := attribute.String("queue", q.Name())
			o.ObserveInt64(depth, stats.Pending, metric.WithAttributes(name, attribute.String("state", "pending")))
			o.ObserveInt64(depth, stats.Inflight, metric.WithAttributes(name, attribute.String("state", "inflight")))
			o.ObserveInt64(depth, stats.Dead, metric.WithAttributes(name, attribute.String("state", "dead")))
		}
		return nil
	}, depth)
}

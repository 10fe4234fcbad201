package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type (
	Counter   = metric.Int64Counter
	Histogram = metric.Int64Histogram
)

// Measurer times one operation at a time: Restart marks the start, Measure
// counts the run and records its duration under the same attributes.
// It is not thread-safe.
type Measurer struct {
	runs     Counter
	duration Histogram
	started  time.Time
}

func NewMeasurer(meter Meter, name string) (*Measurer, error) {
	runs, err := meter.Int64Counter(name, metric.WithDescription("Number of "+name+" runs"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Int64Histogram(name+".duration", metric.WithUnit("us"))
	if err != nil {
		return nil, err
	}
	return &Measurer{runs: runs, duration: duration, started: time.Now()}, nil
}

func (m *Measurer) Restart() {
	m.started = time.Now()
}

// Measure returns the time elapsed since the last Restart.
func (m *Measurer) Measure(ctx context.Context, attrs ...attribute.KeyValue) time.Duration {
	elapsed := time.Since(m.started)
	set := metric.WithAttributeSet(attribute.NewSet(attrs...))
	m.runs.Add(ctx, 1, set)
	m.duration.Record(ctx, elapsed.Microseconds(), set)
	return elapsed
}

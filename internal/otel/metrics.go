package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all taskpilot metric instruments.
type Metrics struct {
	BurstDuration   metric.Float64Histogram
	BurstsStarted   metric.Int64Counter
	QuantumTimeouts metric.Int64Counter
	Heartbeats      metric.Int64Counter
	TaskOutcomes    metric.Int64Counter
	OutputLines     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.BurstDuration, err = meter.Float64Histogram("taskpilot.burst.duration",
		metric.WithDescription("Execution burst duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.BurstsStarted, err = meter.Int64Counter("taskpilot.burst.started",
		metric.WithDescription("Execution bursts started (initial runs plus continuations)"),
	)
	if err != nil {
		return nil, err
	}

	m.QuantumTimeouts, err = meter.Int64Counter("taskpilot.quantum.timeouts",
		metric.WithDescription("Bursts paused by quantum expiry"),
	)
	if err != nil {
		return nil, err
	}

	m.Heartbeats, err = meter.Int64Counter("taskpilot.heartbeats",
		metric.WithDescription("Heartbeat ticks while running"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskOutcomes, err = meter.Int64Counter("taskpilot.task.outcomes",
		metric.WithDescription("Task terminal outcomes by status"),
	)
	if err != nil {
		return nil, err
	}

	m.OutputLines, err = meter.Int64Counter("taskpilot.output.lines",
		metric.WithDescription("Captured agent output lines"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

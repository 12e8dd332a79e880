package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "researchflow"

// Metrics holds all ResearchFlow metric instruments.
type Metrics struct {
	RunsStarted    metric.Int64Counter
	RunsCompleted  metric.Int64Counter
	RunsRejected   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	RunDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("researchflow.runs.started",
		metric.WithDescription("Number of research runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("researchflow.runs.completed",
		metric.WithDescription("Number of research runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsRejected, err = meter.Int64Counter("researchflow.runs.rejected",
		metric.WithDescription("Number of rejected run start requests"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("researchflow.tasks.completed",
		metric.WithDescription("Number of research tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("researchflow.tasks.failed",
		metric.WithDescription("Number of research tasks that failed and were skipped"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("researchflow.run.duration_seconds",
		metric.WithDescription("Research run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskline"

// Metrics holds all Taskline metric instruments.
type Metrics struct {
	MessagesSent    metric.Int64Counter
	SendFailures    metric.Int64Counter
	ToolCalls       metric.Int64Counter
	ToolFailures    metric.Int64Counter
	PregenGenerated metric.Int64Counter
	PregenConsumed  metric.Int64Counter
	TurnDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.MessagesSent, err = meter.Int64Counter("taskline.messages.sent",
		metric.WithDescription("Number of user messages sent through the chat manager"))
	if err != nil {
		return nil, err
	}

	m.SendFailures, err = meter.Int64Counter("taskline.messages.send_failures",
		metric.WithDescription("Number of sends that failed before completing a turn"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("taskline.toolcalls",
		metric.WithDescription("Number of tool calls dispatched"))
	if err != nil {
		return nil, err
	}

	m.ToolFailures, err = meter.Int64Counter("taskline.toolcalls.failed",
		metric.WithDescription("Number of tool calls that produced an error result"))
	if err != nil {
		return nil, err
	}

	m.PregenGenerated, err = meter.Int64Counter("taskline.pregen.generated",
		metric.WithDescription("Number of pregenerated welcome exchanges created"))
	if err != nil {
		return nil, err
	}

	m.PregenConsumed, err = meter.Int64Counter("taskline.pregen.consumed",
		metric.WithDescription("Number of pregenerated welcome exchanges consumed"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("taskline.turn.duration_seconds",
		metric.WithDescription("Duration of one assistant turn in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

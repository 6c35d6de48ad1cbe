package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all mudra metrics.
const meterName = "github.com/ayusman/mudra"

// Metrics holds the metric instruments for the recognition pipeline.
// All fields are safe for concurrent use.
type Metrics struct {
	// FramesProcessed counts frames that made it through extraction.
	// Attribute: phase ("warming_up" or "active").
	FramesProcessed metric.Int64Counter

	// DecodeErrors counts frames rejected because the bytes were not an image.
	DecodeErrors metric.Int64Counter

	// InferenceErrors counts classifier failures, including shape mismatches.
	InferenceErrors metric.Int64Counter

	// Confirmations counts frames whose gesture passed the vote.
	// Attribute: gesture.
	Confirmations metric.Int64Counter

	// TranscriptAppends counts new transcript entries.
	// Attribute: gesture.
	TranscriptAppends metric.Int64Counter

	// InferenceDuration tracks classifier latency in seconds.
	InferenceDuration metric.Float64Histogram

	// ExtractionDuration tracks keypoint extraction latency in seconds.
	ExtractionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live stream sessions.
	ActiveSessions metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("mudra.frames.processed",
		metric.WithDescription("Frames processed by phase."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("mudra.frames.decode_errors",
		metric.WithDescription("Frames rejected because they were not a decodable image."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("mudra.inference.errors",
		metric.WithDescription("Classifier invocations that failed."),
	); err != nil {
		return nil, err
	}
	if met.Confirmations, err = m.Int64Counter("mudra.gesture.confirmations",
		metric.WithDescription("Frames whose gesture passed the majority vote, by gesture."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptAppends, err = m.Int64Counter("mudra.transcript.appends",
		metric.WithDescription("New transcript entries, by gesture."),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("mudra.inference.duration",
		metric.WithDescription("Latency of one classifier invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("mudra.extraction.duration",
		metric.WithDescription("Latency of keypoint extraction for one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("mudra.sessions.active",
		metric.WithDescription("Number of live stream sessions."),
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
// meter provider. Tests should use NewMetrics with their own provider.
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

// RecordFrame counts one processed frame in the given phase.
func (m *Metrics) RecordFrame(ctx context.Context, phase string) {
	m.FramesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordConfirmation counts a confirmed gesture, and a transcript append
// when appended is true.
func (m *Metrics) RecordConfirmation(ctx context.Context, gesture string, appended bool) {
	attrs := metric.WithAttributes(attribute.String("gesture", gesture))
	m.Confirmations.Add(ctx, 1, attrs)
	if appended {
		m.TranscriptAppends.Add(ctx, 1, attrs)
	}
}

// Package observe holds the OpenTelemetry metric instruments of the service and
// the provider setup that exposes them to Prometheus.
//
// Tests should build Metrics with NewMetrics over a provider backed by a
// ManualReader; DefaultMetrics uses the global provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil"
)

const meterName = "github.com/himanishpuri/Tartil"

// Stage names used on the stage duration histogram.
const (
	StageResolve = "resolve"
	StageDecode  = "decode"
	StageExtract = "extract"
	StageAlign   = "align"
)

// Metrics holds every instrument. It implements tartil.Recorder.
type Metrics struct {
	// EvaluationDuration is end-to-end evaluation latency, by level and status.
	EvaluationDuration metric.Float64Histogram

	// StageDuration is per-stage latency, by stage and level.
	StageDuration metric.Float64Histogram

	// Evaluations counts finished evaluations, by level, status and label.
	Evaluations metric.Int64Counter

	// Scores is the distribution of successful scores, by level.
	Scores metric.Float64Histogram

	// DTWCells counts cost matrix cells computed, by level.
	DTWCells metric.Int64Counter

	// InFlight is the number of evaluations currently admitted by the server.
	InFlight metric.Int64UpDownCounter

	// Rejected counts requests turned away because the server was saturated.
	Rejected metric.Int64Counter

	// HTTPRequestDuration is request latency, by method, route and status code.
	HTTPRequestDuration metric.Float64Histogram

	// CalibrationReloads counts reload attempts, by result.
	CalibrationReloads metric.Int64Counter
}

// Alignment of a surah can take tens of seconds, so the buckets reach 60s.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

var scoreBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EvaluationDuration, err = m.Float64Histogram("tartil.evaluation.duration",
		metric.WithDescription("End-to-end latency of an evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("tartil.stage.duration",
		metric.WithDescription("Latency of one evaluation stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Evaluations, err = m.Int64Counter("tartil.evaluations",
		metric.WithDescription("Finished evaluations by level, status and label."),
	); err != nil {
		return nil, err
	}
	if met.Scores, err = m.Float64Histogram("tartil.evaluation.score",
		metric.WithDescription("Normalized scores of successful evaluations."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DTWCells, err = m.Int64Counter("tartil.dtw.cells",
		metric.WithDescription("Cost matrix cells computed by alignments."),
	); err != nil {
		return nil, err
	}
	if met.InFlight, err = m.Int64UpDownCounter("tartil.evaluations.in_flight",
		metric.WithDescription("Evaluations currently running."),
	); err != nil {
		return nil, err
	}
	if met.Rejected, err = m.Int64Counter("tartil.evaluations.rejected",
		metric.WithDescription("Requests rejected because the server was at capacity."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tartil.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CalibrationReloads, err = m.Int64Counter("tartil.calibration.reloads",
		metric.WithDescription("Calibration reload attempts by result."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide instance built on the global meter
// provider. It panics if instrument creation fails.
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

// Status is the status attribute for an error category. Successes are "ok".
func Status(c models.Category) string {
	if c == models.CategoryNone {
		return "ok"
	}
	return string(c)
}

// RecordEvaluation implements tartil.Recorder.
func (m *Metrics) RecordEvaluation(ctx context.Context, rec tartil.Record) {
	level := attribute.String("level", string(rec.Level))
	status := attribute.String("status", Status(rec.Category))

	m.EvaluationDuration.Record(ctx, rec.Timings.Total.Seconds(), metric.WithAttributes(level, status))
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(level, status, attribute.String("label", string(rec.Label))))

	stages := []struct {
		name string
		secs float64
	}{
		{StageResolve, rec.Timings.Resolve.Seconds()},
		{StageDecode, rec.Timings.Decode.Seconds()},
		{StageExtract, rec.Timings.Extract.Seconds()},
		{StageAlign, rec.Timings.Align.Seconds()},
	}
	for _, s := range stages {
		if s.secs > 0 {
			m.StageDuration.Record(ctx, s.secs, metric.WithAttributes(level, attribute.String("stage", s.name)))
		}
	}

	if rec.Category == models.CategoryNone {
		m.Scores.Record(ctx, rec.Score, metric.WithAttributes(level))
		m.DTWCells.Add(ctx, int64(rec.RefFrames)*int64(rec.UserFrames), metric.WithAttributes(level))
	}
}

// RecordCalibrationReload counts a reload attempt.
func (m *Metrics) RecordCalibrationReload(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CalibrationReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

var _ tartil.Recorder = (*Metrics)(nil)

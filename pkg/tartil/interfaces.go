package tartil

import (
	"context"
	"time"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

// Service evaluates recitations against stored references.
type Service interface {
	// Evaluate scores an uploaded recording against the reference for key.
	Evaluate(ctx context.Context, key models.ReferenceKey, audio []byte) (*models.Outcome, error)

	// EvaluateFeatures scores a spectrogram computed by the caller, skipping
	// decoding and extraction. Its band count must match the reference.
	EvaluateFeatures(ctx context.Context, key models.ReferenceKey, user *models.Spectrogram) (*models.Outcome, error)

	// Ping reports whether the reference store is reachable.
	Ping(ctx context.Context) error

	// StoreName labels the reference store for health output.
	StoreName() string

	// Calibration returns the calibration table currently in effect.
	Calibration() *scoring.Table

	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Extractor computes user spectrograms.
type Extractor interface {
	Extract(samples []float64, bands int) (*models.Spectrogram, error)
	SampleRate() int
}

// AudioDecoder turns upload bytes into mono samples at the extractor rate.
type AudioDecoder interface {
	Load(ctx context.Context, data []byte) ([]float64, error)
}

// Timings holds the wall time spent in each stage of one evaluation. Stages
// that did not run are zero.
type Timings struct {
	Resolve time.Duration
	Decode  time.Duration
	Extract time.Duration
	Align   time.Duration
	Total   time.Duration
}

// Record summarizes one finished evaluation.
type Record struct {
	Level      models.Level
	Category   models.Category // CategoryNone on success
	Label      models.Label    // empty on failure
	Score      float64
	RefFrames  int
	UserFrames int
	Timings    Timings
}

// Recorder receives a Record for every evaluation, successful or not.
type Recorder interface {
	RecordEvaluation(ctx context.Context, rec Record)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(context.Context, Record) {}

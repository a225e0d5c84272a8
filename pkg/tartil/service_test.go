package tartil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/audio"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
	"github.com/himanishpuri/Tartil/pkg/tartil/reference"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

// captureLogger records every line so tests can assert on log output.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) add(level, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, level+" "+fmt.Sprintf(format, args...))
}

func (c *captureLogger) Infof(format string, args ...any)  { c.add("INFO", format, args...) }
func (c *captureLogger) Warnf(format string, args ...any)  { c.add("WARN", format, args...) }
func (c *captureLogger) Errorf(format string, args ...any) { c.add("ERROR", format, args...) }
func (c *captureLogger) Debugf(format string, args ...any) { c.add("DEBUG", format, args...) }

func (c *captureLogger) contains(level, substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.HasPrefix(l, level+" ") && strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// fakeDecoder returns fixed samples and counts calls.
type fakeDecoder struct {
	samples []float64
	calls   int
}

func (d *fakeDecoder) Load(context.Context, []byte) ([]float64, error) {
	d.calls++
	return d.samples, nil
}

// fakeExtractor returns a spectrogram built by fn.
type fakeExtractor struct {
	fn func(bands int) (*models.Spectrogram, error)
}

func (e *fakeExtractor) Extract(_ []float64, bands int) (*models.Spectrogram, error) {
	return e.fn(bands)
}

func (e *fakeExtractor) SampleRate() int { return features.DefaultSampleRate }

type captureRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *captureRecorder) RecordEvaluation(_ context.Context, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *captureRecorder) last(t *testing.T) Record {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		t.Fatal("No evaluation recorded")
	}
	return r.records[len(r.records)-1]
}

// mustKey returns a function that unwraps a key constructor's result, so
// calls read mustKey(t)(models.WordKey(1, 2, 3)).
func mustKey(t *testing.T) func(models.ReferenceKey, error) models.ReferenceKey {
	return func(k models.ReferenceKey, err error) models.ReferenceKey {
		t.Helper()
		if err != nil {
			t.Fatalf("Failed to build key: %v", err)
		}
		return k
	}
}

// setupTestService creates a service over an in-memory store populated by the
// caller.
func setupTestService(t *testing.T, store *reference.MemoryStore, opts ...Option) (Service, *captureLogger, *captureRecorder) {
	t.Helper()
	log := &captureLogger{}
	rec := &captureRecorder{}
	opts = append([]Option{
		WithStore("memory", store),
		WithLogger(log),
		WithRecorder(rec),
		WithTempDir(t.TempDir()),
	}, opts...)
	svc, err := NewService(opts...)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc, log, rec
}

func putRef(t *testing.T, store *reference.MemoryStore, key models.ReferenceKey, spec *models.Spectrogram) {
	t.Helper()
	if err := store.Put(context.Background(), key, spec); err != nil {
		t.Fatalf("Failed to store reference: %v", err)
	}
}

func TestEvaluateFeaturesIdentical(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.WordKey(1, 1, 1))
	putRef(t, store, key, models.NewSpectrogram(40, 50))
	svc, _, rec := setupTestService(t, store)

	out, err := svc.EvaluateFeatures(context.Background(), key, models.NewSpectrogram(40, 50))
	if err != nil {
		t.Fatalf("EvaluateFeatures failed: %v", err)
	}
	if out.Distance != 0 || out.AvgCost != 0 {
		t.Errorf("Expected zero distance, got %v / %v", out.Distance, out.AvgCost)
	}
	if out.Score != 1 || out.ScorePercent != 100 {
		t.Errorf("Expected perfect score, got %v (%v%%)", out.Score, out.ScorePercent)
	}
	if out.Label != scoring.LabelGood || out.Color != "#22c55e" {
		t.Errorf("Expected good/#22c55e, got %s/%s", out.Label, out.Color)
	}
	if out.Level != models.LevelWord || out.Surah != 1 || out.Ayah == nil || *out.Ayah != 1 || out.Word == nil || *out.Word != 1 {
		t.Errorf("Unexpected coordinates: %+v", out)
	}
	if out.CalibrationVersion != scoring.DefaultVersion {
		t.Errorf("Expected calibration version %s, got %s", scoring.DefaultVersion, out.CalibrationVersion)
	}

	r := rec.last(t)
	if r.Category != models.CategoryNone || r.Label != scoring.LabelGood || r.RefFrames != 50 || r.UserFrames != 50 {
		t.Errorf("Unexpected record: %+v", r)
	}
}

func TestEvaluateFeaturesRejectsBadInput(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.AyahKey(2, 255))
	putRef(t, store, key, models.NewSpectrogram(40, 10))
	svc, _, _ := setupTestService(t, store)

	_, err := svc.EvaluateFeatures(context.Background(), key, models.NewSpectrogram(20, 10))
	if !errors.Is(err, models.ErrInvalidAudio) {
		t.Errorf("Band mismatch: expected ErrInvalidAudio, got %v", err)
	}

	bad := models.NewSpectrogram(40, 10)
	bad.Set(3, 4, math.NaN())
	_, err = svc.EvaluateFeatures(context.Background(), key, bad)
	if !errors.Is(err, models.ErrInvalidAudio) {
		t.Errorf("NaN value: expected ErrInvalidAudio, got %v", err)
	}

	_, err = svc.EvaluateFeatures(context.Background(), models.ReferenceKey{}, bad)
	if !errors.Is(err, models.ErrInvalidKey) {
		t.Errorf("Zero key: expected ErrInvalidKey, got %v", err)
	}
}

func TestEvaluateUsesReferenceBands(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.SurahKey(112))
	putRef(t, store, key, models.NewSpectrogram(64, 30))

	var requested int
	ex := &fakeExtractor{fn: func(bands int) (*models.Spectrogram, error) {
		requested = bands
		return models.NewSpectrogram(bands, 45), nil
	}}
	dec := &fakeDecoder{samples: make([]float64, 100)}
	svc, _, _ := setupTestService(t, store, WithExtractor(ex), WithDecoder(dec))

	out, err := svc.Evaluate(context.Background(), key, []byte("audio"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if requested != 64 {
		t.Errorf("Expected extraction at 64 bands, got %d", requested)
	}
	if out.Score != 1 || out.Ayah != nil || out.Word != nil {
		t.Errorf("Unexpected outcome: %+v", out)
	}
}

func TestEvaluateMissingReferenceSkipsAudio(t *testing.T) {
	store := reference.NewMemoryStore()
	dec := &fakeDecoder{}
	svc, _, rec := setupTestService(t, store, WithDecoder(dec))

	key := mustKey(t)(models.AyahKey(2, 300))
	_, err := svc.Evaluate(context.Background(), key, nil)
	if !errors.Is(err, models.ErrReferenceNotFound) {
		t.Fatalf("Expected ErrReferenceNotFound, got %v", err)
	}
	if dec.calls != 0 {
		t.Errorf("Audio decoded %d times for a missing reference", dec.calls)
	}
	if got := rec.last(t).Category; got != models.CategoryNotFound {
		t.Errorf("Expected not_found record, got %q", got)
	}
}

func TestEvaluateSilentAudio(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.WordKey(1, 1, 1))
	putRef(t, store, key, models.NewSpectrogram(40, 50))
	svc, _, _ := setupTestService(t, store)

	path := filepath.Join(t.TempDir(), "silence.wav")
	if err := audio.WriteWAV(path, make([]float64, features.DefaultSampleRate), features.DefaultSampleRate); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read WAV: %v", err)
	}

	_, err = svc.Evaluate(context.Background(), key, data)
	if !errors.Is(err, models.ErrInvalidAudio) {
		t.Fatalf("Expected ErrInvalidAudio, got %v", err)
	}
	if models.CategoryOf(err) != models.CategoryClient {
		t.Errorf("Expected client category, got %s", models.CategoryOf(err))
	}
}

func TestEvaluateEndToEndWAV(t *testing.T) {
	sr := features.DefaultSampleRate
	samples := make([]float64, sr)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sr))
	}

	ex, err := features.New(features.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create extractor: %v", err)
	}
	ref, err := ex.Extract(samples, 40)
	if err != nil {
		t.Fatalf("Failed to extract reference: %v", err)
	}

	store := reference.NewMemoryStore()
	key := mustKey(t)(models.WordKey(1, 2, 3))
	putRef(t, store, key, ref)
	svc, _, _ := setupTestService(t, store)

	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := audio.WriteWAV(path, samples, sr); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read WAV: %v", err)
	}

	out, err := svc.Evaluate(context.Background(), key, data)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out.Score < 0.9 || out.Label != scoring.LabelGood {
		t.Errorf("Expected near-perfect good score, got %v %s (distance %v)", out.Score, out.Label, out.Distance)
	}
}

func TestEvaluateShapeMismatchLoggedAsBug(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.WordKey(1, 1, 1))
	putRef(t, store, key, models.NewSpectrogram(40, 20))
	ex := &fakeExtractor{fn: func(int) (*models.Spectrogram, error) {
		return models.NewSpectrogram(13, 20), nil
	}}
	svc, log, _ := setupTestService(t, store, WithExtractor(ex), WithDecoder(&fakeDecoder{}))

	_, err := svc.Evaluate(context.Background(), key, []byte("x"))
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Fatalf("Expected ErrShapeMismatch, got %v", err)
	}
	if models.CategoryOf(err) != models.CategoryServer {
		t.Errorf("Expected server category, got %s", models.CategoryOf(err))
	}
	if models.PublicMessage(err) == err.Error() {
		t.Errorf("Shape mismatch detail leaked into public message")
	}
	if !log.contains("ERROR", "BUG") {
		t.Errorf("Expected an ERROR line marked BUG, got %v", log.lines)
	}
}

func TestEvaluateRecoversPanic(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.WordKey(1, 1, 1))
	putRef(t, store, key, models.NewSpectrogram(40, 20))
	ex := &fakeExtractor{fn: func(int) (*models.Spectrogram, error) {
		panic("index out of range")
	}}
	svc, log, rec := setupTestService(t, store, WithExtractor(ex), WithDecoder(&fakeDecoder{}))

	out, err := svc.Evaluate(context.Background(), key, []byte("x"))
	if out != nil {
		t.Errorf("Expected no outcome, got %+v", out)
	}
	if !errors.Is(err, models.ErrInternal) {
		t.Fatalf("Expected ErrInternal, got %v", err)
	}
	if !log.contains("ERROR", "panic") {
		t.Errorf("Panic not logged: %v", log.lines)
	}
	if got := rec.last(t).Category; got != models.CategoryServer {
		t.Errorf("Expected server record, got %q", got)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.WordKey(1, 1, 1))
	putRef(t, store, key, models.NewSpectrogram(40, 20))
	dec := &fakeDecoder{}
	svc, _, _ := setupTestService(t, store, WithDecoder(dec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Evaluate(ctx, key, []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if models.CategoryOf(err) != models.CategoryTimeout {
		t.Errorf("Expected timeout category, got %s", models.CategoryOf(err))
	}
	if dec.calls != 0 {
		t.Errorf("Audio decoded after cancellation")
	}
}

func TestEvaluateTooLarge(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.SurahKey(2))
	putRef(t, store, key, models.NewSpectrogram(8, 100))
	svc, _, _ := setupTestService(t, store, WithMaxCells(1000))

	_, err := svc.EvaluateFeatures(context.Background(), key, models.NewSpectrogram(8, 100))
	if !errors.Is(err, models.ErrInvalidAudio) {
		t.Fatalf("Expected ErrInvalidAudio, got %v", err)
	}
}

func TestCalibrationSwapChangesScore(t *testing.T) {
	store := reference.NewMemoryStore()
	key := mustKey(t)(models.WordKey(1, 1, 1))
	ref := models.NewSpectrogram(1, 1)
	putRef(t, store, key, ref)
	user := models.NewSpectrogram(1, 1)
	user.Set(0, 0, 750)

	holder := scoring.NewHolder(nil)
	svc, _, _ := setupTestService(t, store, WithCalibration(holder))

	out, err := svc.EvaluateFeatures(context.Background(), key, user)
	if err != nil {
		t.Fatalf("EvaluateFeatures failed: %v", err)
	}
	if math.Abs(out.Score-0.5) > 1e-9 || out.Label != scoring.LabelIntermediate {
		t.Errorf("Expected 0.5 intermediate, got %v %s", out.Score, out.Label)
	}

	next := scoring.DefaultTable()
	next.Version = "test"
	word := next.Levels[models.LevelWord]
	word.Scale = 7500
	next.Levels[models.LevelWord] = word
	if _, err := holder.Swap(next); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}

	out, err = svc.EvaluateFeatures(context.Background(), key, user)
	if err != nil {
		t.Fatalf("EvaluateFeatures failed: %v", err)
	}
	if math.Abs(out.Score-0.9) > 1e-9 || out.CalibrationVersion != "test" {
		t.Errorf("Expected 0.9 under version test, got %v under %s", out.Score, out.CalibrationVersion)
	}
	if svc.Calibration().Version != "test" {
		t.Errorf("Service reports calibration %s", svc.Calibration().Version)
	}
}

func TestPingAndStoreName(t *testing.T) {
	svc, _, _ := setupTestService(t, reference.NewMemoryStore())
	if err := svc.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if svc.StoreName() != "memory" {
		t.Errorf("Expected store name memory, got %q", svc.StoreName())
	}
}

func TestContextLogger(t *testing.T) {
	store := reference.NewMemoryStore()
	svc, base, _ := setupTestService(t, store)
	reqLog := &captureLogger{}
	ctx := ContextWithLogger(context.Background(), reqLog)

	key := mustKey(t)(models.SurahKey(1))
	_, _ = svc.EvaluateFeatures(ctx, key, models.NewSpectrogram(1, 1))
	if !reqLog.contains("WARN", "surah 1") {
		t.Errorf("Request logger did not receive the rejection: %v", reqLog.lines)
	}
	if len(base.lines) != 0 {
		t.Errorf("Base logger used despite context logger: %v", base.lines)
	}
}

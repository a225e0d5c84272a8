package features

import (
	"errors"
	"math"
	"testing"

	"github.com/himanishpuri/Tartil/pkg/models"
)

func sine(freq float64, sr, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return out
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestExtractShape(t *testing.T) {
	e := newExtractor(t)
	samples := sine(440, DefaultSampleRate, DefaultSampleRate, 0.5)

	for _, bands := range []int{1, 40, 128} {
		spec, err := e.Extract(samples, bands)
		if err != nil {
			t.Fatalf("Extract(%d bands) failed: %v", bands, err)
		}
		if spec.Bands() != bands {
			t.Errorf("Expected %d bands, got %d", bands, spec.Bands())
		}
		want := (len(samples)-DefaultWindowSize)/DefaultHopSize + 1
		if spec.Frames() != want {
			t.Errorf("Expected %d frames, got %d", want, spec.Frames())
		}
		if err := spec.Validate(); err != nil {
			t.Errorf("Extracted spectrogram invalid: %v", err)
		}
	}
}

func TestFrameCount(t *testing.T) {
	e := newExtractor(t)
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{DefaultWindowSize - 1, 0},
		{DefaultWindowSize, 1},
		{DefaultWindowSize + DefaultHopSize - 1, 1},
		{DefaultWindowSize + DefaultHopSize, 2},
		{DefaultSampleRate, 40},
	}
	for _, tt := range tests {
		if got := e.FrameCount(tt.n); got != tt.want {
			t.Errorf("FrameCount(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := newExtractor(t)
	samples := sine(300, DefaultSampleRate, 8000, 0.3)

	a, err := e.Extract(samples, 40)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Extract(samples, 40)
	if err != nil {
		t.Fatal(err)
	}
	for tt := 0; tt < a.Frames(); tt++ {
		for band := 0; band < a.Bands(); band++ {
			if a.At(band, tt) != b.At(band, tt) {
				t.Fatalf("Value differs at band %d frame %d", band, tt)
			}
		}
	}
}

func peakBand(s *models.Spectrogram, frame int) int {
	best, idx := -1.0, 0
	for b, v := range s.Frame(frame) {
		if v > best {
			best, idx = v, b
		}
	}
	return idx
}

func TestExtractFrequencyOrdering(t *testing.T) {
	e := newExtractor(t)
	low, err := e.Extract(sine(300, DefaultSampleRate, 8192, 0.5), 40)
	if err != nil {
		t.Fatal(err)
	}
	high, err := e.Extract(sine(4000, DefaultSampleRate, 8192, 0.5), 40)
	if err != nil {
		t.Fatal(err)
	}
	if lb, hb := peakBand(low, 2), peakBand(high, 2); lb >= hb {
		t.Errorf("Expected 300 Hz peak band (%d) below 4 kHz peak band (%d)", lb, hb)
	}
}

func TestExtractInvalidAudio(t *testing.T) {
	e := newExtractor(t)
	tests := []struct {
		name    string
		samples []float64
	}{
		{"empty", nil},
		{"too short", sine(440, DefaultSampleRate, DefaultWindowSize-1, 0.5)},
		{"silent", make([]float64, DefaultSampleRate)},
		{"nan", append(sine(440, DefaultSampleRate, DefaultWindowSize, 0.5), math.NaN())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.samples, 40)
			if !errors.Is(err, models.ErrInvalidAudio) {
				t.Errorf("Expected ErrInvalidAudio, got %v", err)
			}
		})
	}
}

func TestExtractInvalidBands(t *testing.T) {
	e := newExtractor(t)
	samples := sine(440, DefaultSampleRate, 4096, 0.5)
	for _, bands := range []int{0, -1, MaxBands + 1} {
		if _, err := e.Extract(samples, bands); !errors.Is(err, models.ErrShapeMismatch) {
			t.Errorf("Extract(%d bands): expected ErrShapeMismatch, got %v", bands, err)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{SampleRate: 0, WindowSize: 2048, HopSize: 512},
		{SampleRate: 22050, WindowSize: 1, HopSize: 512},
		{SampleRate: 22050, WindowSize: 2048, HopSize: 0},
		{SampleRate: 22050, WindowSize: 2048, HopSize: 512, MaxFreq: 20000},
		{SampleRate: 22050, WindowSize: 2048, HopSize: 512, Window: "blackman"},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Errorf("Config %d: expected validation error", i)
		}
	}
}

func TestMelFilterBankCoverage(t *testing.T) {
	bank := melFilterBank(40, 2048, 22050, 0, 11025)
	if len(bank) != 40 {
		t.Fatalf("Expected 40 filters, got %d", len(bank))
	}
	for m, f := range bank {
		if f.start < 0 || f.start+len(f.weights) > 1025 {
			t.Fatalf("Filter %d out of range: start=%d len=%d", m, f.start, len(f.weights))
		}
		var peak float64
		for _, w := range f.weights {
			if w < 0 || w > 1 {
				t.Fatalf("Filter %d has weight %v outside [0,1]", m, w)
			}
			peak = math.Max(peak, w)
		}
		if peak == 0 {
			t.Errorf("Filter %d is empty", m)
		}
	}
}

func TestMelFilterBankDense(t *testing.T) {
	// More filters than FFT bins must still produce in-range filters.
	bank := melFilterBank(200, 256, 8000, 0, 4000)
	for m, f := range bank {
		if f.start+len(f.weights) > 129 {
			t.Fatalf("Filter %d exceeds spectrum: start=%d len=%d", m, f.start, len(f.weights))
		}
	}
}

func TestHzMelRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 100, 1000, 8000} {
		if got := melToHz(hzToMel(hz)); math.Abs(got-hz) > 1e-6 {
			t.Errorf("Round trip of %v Hz gave %v", hz, got)
		}
	}
}

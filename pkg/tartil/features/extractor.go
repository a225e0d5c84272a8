// Package features computes log-compressed Mel spectrograms from mono
// waveforms.
package features

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/mjibson/go-dsp/fft"
)

const (
	DefaultSampleRate = 22050
	DefaultWindowSize = 2048
	DefaultHopSize    = 512

	// DefaultSilenceRMS is the RMS amplitude below which a waveform counts as
	// silent. Samples are normalized to [-1,1], so this sits around -80 dBFS.
	DefaultSilenceRMS = 1e-4

	// MaxBands bounds the band count a caller may request.
	MaxBands = 512
)

// Window selects the analysis window.
type Window string

const (
	WindowHann    Window = "hann"
	WindowHamming Window = "hamming"
)

// Config holds the fixed constants of an Extractor.
type Config struct {
	SampleRate int     // rate the samples are expected at, Hz
	WindowSize int     // FFT size in samples
	HopSize    int     // advance between frames in samples
	MinFreq    float64 // lowest filter edge, Hz
	MaxFreq    float64 // highest filter edge, Hz; 0 means SampleRate/2
	SilenceRMS float64
	Window     Window
}

// DefaultConfig returns the configuration references are computed with.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		WindowSize: DefaultWindowSize,
		HopSize:    DefaultHopSize,
		SilenceRMS: DefaultSilenceRMS,
		Window:     WindowHann,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.WindowSize < 2 {
		errs = append(errs, fmt.Errorf("window size must be at least 2, got %d", c.WindowSize))
	}
	if c.HopSize <= 0 {
		errs = append(errs, fmt.Errorf("hop size must be positive, got %d", c.HopSize))
	}
	if c.MinFreq < 0 {
		errs = append(errs, fmt.Errorf("min frequency must be >= 0, got %v", c.MinFreq))
	}
	if c.MaxFreq != 0 && (c.MaxFreq <= c.MinFreq || c.MaxFreq > float64(c.SampleRate)/2) {
		errs = append(errs, fmt.Errorf("max frequency %v must be in (%v, %v]", c.MaxFreq, c.MinFreq, float64(c.SampleRate)/2))
	}
	if c.SilenceRMS < 0 {
		errs = append(errs, fmt.Errorf("silence threshold must be >= 0, got %v", c.SilenceRMS))
	}
	switch c.Window {
	case "", WindowHann, WindowHamming:
	default:
		errs = append(errs, fmt.Errorf("unknown window %q", c.Window))
	}
	return errors.Join(errs...)
}

// Extractor converts waveforms into Mel spectrograms. It is safe for
// concurrent use; filterbanks are built once per band count.
type Extractor struct {
	cfg    Config
	window []float64

	mu    sync.Mutex
	banks map[int][]filter
}

// New returns an extractor for cfg.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature config: %w", err)
	}
	if cfg.MaxFreq == 0 {
		cfg.MaxFreq = float64(cfg.SampleRate) / 2
	}
	win := hann(cfg.WindowSize)
	if cfg.Window == WindowHamming {
		win = hamming(cfg.WindowSize)
	}
	return &Extractor{
		cfg:    cfg,
		window: win,
		banks:  make(map[int][]filter),
	}, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config { return e.cfg }

// SampleRate returns the rate Extract expects its input at.
func (e *Extractor) SampleRate() int { return e.cfg.SampleRate }

// FrameCount returns the number of frames Extract produces for n samples.
func (e *Extractor) FrameCount(n int) int {
	if n < e.cfg.WindowSize {
		return 0
	}
	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// Extract computes a spectrogram with exactly bands rows from mono samples
// normalized to [-1,1] at the configured sample rate. Every value is
// log(1 + mel energy), so the result is finite and non-negative.
func (e *Extractor) Extract(samples []float64, bands int) (*models.Spectrogram, error) {
	if bands <= 0 || bands > MaxBands {
		return nil, models.ShapeMismatch("band count must be in [1,%d], got %d", MaxBands, bands)
	}
	if len(samples) == 0 {
		return nil, models.InvalidAudio("audio is empty")
	}
	if len(samples) < e.cfg.WindowSize {
		return nil, models.InvalidAudio("audio is too short: %d samples, need at least %d", len(samples), e.cfg.WindowSize)
	}

	var energy float64
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, models.InvalidAudio("audio contains non-finite samples")
		}
		energy += s * s
	}
	if rms := math.Sqrt(energy / float64(len(samples))); rms < e.cfg.SilenceRMS {
		return nil, models.InvalidAudio("audio is silent (rms %.2g below %.2g)", rms, e.cfg.SilenceRMS)
	}

	bank := e.filterBank(bands)
	frames := e.FrameCount(len(samples))
	spec := models.NewSpectrogram(bands, frames)

	ws := e.cfg.WindowSize
	half := ws/2 + 1
	frame := make([]float64, ws)
	power := make([]float64, half)
	for t := 0; t < frames; t++ {
		start := t * e.cfg.HopSize
		for i := 0; i < ws; i++ {
			frame[i] = samples[start+i] * e.window[i]
		}
		spectrum := fft.FFTReal(frame)
		for k := 0; k < half; k++ {
			re, im := real(spectrum[k]), imag(spectrum[k])
			power[k] = re*re + im*im
		}
		out := spec.Frame(t)
		for m, f := range bank {
			out[m] = math.Log1p(f.apply(power))
		}
	}
	return spec, nil
}

func (e *Extractor) filterBank(bands int) []filter {
	e.mu.Lock()
	defer e.mu.Unlock()
	bank, ok := e.banks[bands]
	if !ok {
		bank = melFilterBank(bands, e.cfg.WindowSize, e.cfg.SampleRate, e.cfg.MinFreq, e.cfg.MaxFreq)
		e.banks[bands] = bank
	}
	return bank
}

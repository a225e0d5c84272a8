package models

import (
	"errors"
	"fmt"
	"math"
)

// Spectrogram is a (band × frame) matrix of non-negative magnitudes.
// Values are stored frame-major so that Frame(t) is a contiguous band vector.
type Spectrogram struct {
	bands  int
	frames int
	data   []float64
}

// NewSpectrogram allocates a zeroed spectrogram.
func NewSpectrogram(bands, frames int) *Spectrogram {
	if bands < 0 {
		bands = 0
	}
	if frames < 0 {
		frames = 0
	}
	return &Spectrogram{
		bands:  bands,
		frames: frames,
		data:   make([]float64, bands*frames),
	}
}

// SpectrogramFromRows builds a spectrogram from band-major rows: rows[band][frame].
// All rows must have the same length.
func SpectrogramFromRows(rows [][]float64) (*Spectrogram, error) {
	if len(rows) == 0 {
		return nil, errors.New("spectrogram has no bands")
	}
	frames := len(rows[0])
	s := NewSpectrogram(len(rows), frames)
	for b, row := range rows {
		if len(row) != frames {
			return nil, fmt.Errorf("band %d has %d frames, want %d", b, len(row), frames)
		}
		for t, v := range row {
			s.data[t*s.bands+b] = v
		}
	}
	return s, nil
}

// SpectrogramFromFlat builds a spectrogram from a band-major flat slice of length
// bands*frames, the layout used by the on-disk and wire encodings.
func SpectrogramFromFlat(bands, frames int, flat []float32) (*Spectrogram, error) {
	if bands <= 0 || frames <= 0 {
		return nil, fmt.Errorf("invalid shape %d×%d", bands, frames)
	}
	if len(flat) != bands*frames {
		return nil, fmt.Errorf("payload has %d values, shape %d×%d needs %d", len(flat), bands, frames, bands*frames)
	}
	s := NewSpectrogram(bands, frames)
	for b := 0; b < bands; b++ {
		row := flat[b*frames : (b+1)*frames]
		for t, v := range row {
			s.data[t*bands+b] = float64(v)
		}
	}
	return s, nil
}

// Bands returns the number of frequency bands.
func (s *Spectrogram) Bands() int { return s.bands }

// Frames returns the number of time frames.
func (s *Spectrogram) Frames() int { return s.frames }

// At returns the magnitude of band b at frame t.
func (s *Spectrogram) At(b, t int) float64 { return s.data[t*s.bands+b] }

// Set assigns the magnitude of band b at frame t.
func (s *Spectrogram) Set(b, t int, v float64) { s.data[t*s.bands+b] = v }

// Frame returns the band vector of frame t. The slice aliases the spectrogram
// storage, so writes to it change the spectrogram.
func (s *Spectrogram) Frame(t int) []float64 {
	return s.data[t*s.bands : (t+1)*s.bands]
}

// Flat returns a band-major float32 copy of the values.
func (s *Spectrogram) Flat() []float32 {
	out := make([]float32, len(s.data))
	for t := 0; t < s.frames; t++ {
		for b := 0; b < s.bands; b++ {
			out[b*s.frames+t] = float32(s.data[t*s.bands+b])
		}
	}
	return out
}

// Validate enforces the shape and value invariants: at least one band and one
// frame, and every value finite and non-negative.
func (s *Spectrogram) Validate() error {
	if s == nil {
		return errors.New("spectrogram is nil")
	}
	if s.bands <= 0 {
		return fmt.Errorf("spectrogram has %d bands", s.bands)
	}
	if s.frames <= 0 {
		return fmt.Errorf("spectrogram has %d frames", s.frames)
	}
	for i, v := range s.data {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("band %d frame %d holds invalid value %v", i%s.bands, i/s.bands, v)
		}
	}
	return nil
}

package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from one rate to another. Equal rates return
// the input unchanged. The output holds round(len(samples)*to/from) samples at
// most, so frame counts depend only on the input length.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return samples, nil
	}

	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	out, err := resampler.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to resample %d -> %d Hz: %w", from, to, err)
	}
	tail, err := resampler.Flush()
	if err != nil {
		return nil, fmt.Errorf("failed to flush resampler: %w", err)
	}
	out = append(out, tail...)

	if want := int(math.Round(float64(len(samples)) * float64(to) / float64(from))); len(out) > want {
		out = out[:want]
	}
	return out, nil
}

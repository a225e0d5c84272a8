// Package audio turns uploaded recordings into mono float64 waveforms at the
// rate the feature extractor expects.
package audio

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/himanishpuri/Tartil/pkg/models"
)

// pcmFormat is the WAVE_FORMAT_PCM tag.
const pcmFormat = 1

// maxSampleRate bounds the rates DecodeWAV accepts.
const maxSampleRate = 768_000

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV decodes integer PCM WAV bytes of any bit depth and channel count
// into mono samples normalized to [-1,1], returning them with the sample rate.
func DecodeWAV(data []byte) ([]float64, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, 0, models.InvalidAudio("not a valid WAV file")
	}
	if decoder.WavAudioFormat != pcmFormat {
		return nil, 0, models.InvalidAudio("unsupported WAV encoding %d, only integer PCM is accepted", decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, models.InvalidAudio("failed to read PCM data: %v", err)
	}
	channels := int(decoder.NumChans)
	if channels <= 0 {
		return nil, 0, models.InvalidAudio("WAV declares %d channels", channels)
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, 0, models.InvalidAudio("unsupported bit depth %d", bitDepth)
	}
	rate := int(decoder.SampleRate)
	if rate <= 0 || rate > maxSampleRate {
		return nil, 0, models.InvalidAudio("WAV declares sample rate %d Hz", rate)
	}

	return downmix(buf.Data, channels, bitDepth), rate, nil
}

// downmix averages interleaved integer samples into one normalized channel.
// 8-bit PCM is unsigned with silence at 128; wider depths are signed.
func downmix(data []int, channels, bitDepth int) []float64 {
	maxVal := float64(int64(1) << (uint(bitDepth) - 1))
	var offset float64
	if bitDepth == 8 {
		offset = maxVal
	}
	frames := len(data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c])
		}
		out[i] = (sum/float64(channels) - offset) / maxVal
	}
	return out
}

// WriteWAV writes mono samples in [-1,1] as 16-bit PCM.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return nil
}

// ReadWAVFile decodes a WAV file from disk.
func ReadWAVFile(path string) ([]float64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return DecodeWAV(data)
}

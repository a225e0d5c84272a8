//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/eligwz/spectrogram"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/audio"
)

func newRenderCmd() *cobra.Command {
	var (
		keys      keyFlags
		fromStore bool
		output    string
		width     int
		height    int
	)
	cmd := &cobra.Command{
		Use:   "render [wav-file]",
		Short: "Render a recording or a stored reference as a PNG spectrogram",
		Example: `  tartil render recording.wav -o recording.png
  tartil render --reference --surah 1 --ayah 2 -o ref.png`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(_ *cobra.Command, args []string) error {
			if fromStore == (len(args) == 1) {
				return fmt.Errorf("pass either a WAV file or --reference")
			}
			if width <= 0 || height <= 0 {
				return fmt.Errorf("width and height must be positive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				if fromStore {
					return fmt.Errorf("--output is required with --reference")
				}
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".png"
			}

			var img *spectrogram.Image128
			if fromStore {
				key, err := keys.key()
				if err != nil {
					return err
				}
				ctx, cancel := commandContext(cmd, defaultCommandTimeout)
				defer cancel()
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				spec, err := store.Get(ctx, key)
				if err != nil {
					return err
				}
				img = drawMel(spec, width, height)
			} else {
				samples, rate, err := audio.ReadWAVFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[0], err)
				}
				img = drawWaveform(samples, rate, width, height)
			}

			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}
			if err := spectrogram.SavePng(img, output); err != nil {
				return fmt.Errorf("failed to save %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved spectrogram to %s\n", output)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&fromStore, "reference", false, "render the stored reference for --surah/--ayah/--word")
	f.StringVar(&keys.level, "level", "", "word, ayah or surah (inferred when empty)")
	f.IntVar(&keys.surah, "surah", 0, "surah number (1-114)")
	f.IntVar(&keys.ayah, "ayah", 0, "ayah number")
	f.IntVar(&keys.word, "word", 0, "word number")
	f.StringVarP(&output, "output", "o", "", "PNG path (defaults next to the input)")
	f.IntVar(&width, "width", 2048, "image width in pixels")
	f.IntVar(&height, "height", 512, "image height in pixels")
	return cmd
}

// drawWaveform renders a linear-frequency magnitude spectrogram of samples.
func drawWaveform(samples []float64, rate, width, height int) *spectrogram.Image128 {
	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, magnitude, linear scale.
	spectrogram.Drawfft(img, samples, uint32(rate), uint32(height), false, false, true, false)
	return img
}

// drawMel renders a stored Mel spectrogram, low bands at the bottom, stretched
// to width x height with nearest-neighbour sampling.
func drawMel(spec *models.Spectrogram, width, height int) *spectrogram.Image128 {
	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	levels := grayLevels(spec)
	bands, frames := spec.Bands(), spec.Frames()
	for x := 0; x < width; x++ {
		t := x * frames / width
		for y := 0; y < height; y++ {
			b := bands - 1 - y*bands/height
			img.Set(x, y, color.Gray{Y: levels[b*frames+t]})
		}
	}
	return img
}

// grayLevels maps spec values linearly onto 0..255, band-major. A constant
// spectrogram maps to black.
func grayLevels(spec *models.Spectrogram) []uint8 {
	bands, frames := spec.Bands(), spec.Frames()
	lo, hi := spec.At(0, 0), spec.At(0, 0)
	for t := 0; t < frames; t++ {
		for _, v := range spec.Frame(t) {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	out := make([]uint8, bands*frames)
	if hi == lo {
		return out
	}
	for b := 0; b < bands; b++ {
		for t := 0; t < frames; t++ {
			out[b*frames+t] = uint8((spec.At(b, t) - lo) / (hi - lo) * 255)
		}
	}
	return out
}

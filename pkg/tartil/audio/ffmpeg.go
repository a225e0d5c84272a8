package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultConvertTimeout = 30 * time.Second
	defaultProbeTimeout   = 5 * time.Second
)

// ConvertWAVConfig controls ffmpeg transcoding.
type ConvertWAVConfig struct {
	FFmpegPath string // defaults to "ffmpeg"
	SampleRate int
	Timeout    time.Duration
}

// ConvertToMonoWAV transcodes inputPath into a 16-bit mono WAV at outputPath.
func ConvertToMonoWAV(ctx context.Context, inputPath, outputPath string, cfg ConvertWAVConfig) error {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("invalid target sample rate %d", cfg.SampleRate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConvertTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		cfg.FFmpegPath,
		"-y",
		"-v", "error",
		"-i", inputPath,
		"-ac", "1", // mono
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "pcm_s16le",
		outputPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}
	return nil
}

// Metadata is what ffprobe reports about an upload.
type Metadata struct {
	DurationSec float64
	SampleRate  int
	Channels    int
	Format      string
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Format   string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// errNoAudioStream is returned by Probe for containers without audio.
var errNoAudioStream = errors.New("no audio stream found")

// Probe reads container metadata with ffprobe.
func Probe(ctx context.Context, ffprobePath, path string) (*Metadata, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
		rate, _ := strconv.Atoi(s.SampleRate)
		return &Metadata{
			DurationSec: duration,
			SampleRate:  rate,
			Channels:    s.Channels,
			Format:      probe.Format.Format,
		}, nil
	}
	return nil, errNoAudioStream
}

package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/utils"
)

// Loader decodes uploads. WAV is decoded in memory; other containers are
// transcoded with ffmpeg through scoped temporary files when FFmpegPath is
// set, and rejected otherwise.
type Loader struct {
	SampleRate  int           // output rate
	FFmpegPath  string        // empty disables transcoding
	FFprobePath string        // empty skips the pre-transcode duration probe
	TempDir     string        // scratch space for transcoding
	MaxDuration time.Duration // zero means unlimited
	Timeout     time.Duration // per ffmpeg invocation
}

// Load returns mono samples in [-1,1] at l.SampleRate. Every temporary file it
// creates is removed before it returns, on success and failure alike.
func (l *Loader) Load(ctx context.Context, data []byte) ([]float64, error) {
	if len(data) == 0 {
		return nil, models.InvalidAudio("audio is empty")
	}
	if l.SampleRate <= 0 {
		return nil, models.Internal(fmt.Errorf("loader sample rate %d", l.SampleRate))
	}

	var (
		samples []float64
		rate    int
		err     error
	)
	if IsWAV(data) {
		samples, rate, err = DecodeWAV(data)
		if err != nil && l.FFmpegPath != "" {
			samples, rate, err = l.transcode(ctx, data)
		}
	} else if l.FFmpegPath != "" {
		samples, rate, err = l.transcode(ctx, data)
	} else {
		err = models.InvalidAudio("unsupported audio format, upload a PCM WAV file")
	}
	if err != nil {
		return nil, err
	}

	if l.MaxDuration > 0 && rate > 0 {
		if d := time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second)); d > l.MaxDuration {
			return nil, models.InvalidAudio("recording is %s long, the limit is %s", d.Round(time.Second), l.MaxDuration)
		}
	}

	out, err := Resample(samples, rate, l.SampleRate)
	if err != nil {
		return nil, models.Internal(err)
	}
	return out, nil
}

func (l *Loader) transcode(ctx context.Context, data []byte) ([]float64, int, error) {
	in, err := utils.WriteTempFile(l.TempDir, ".upload", data)
	if err != nil {
		return nil, 0, models.Internal(err)
	}
	defer in.Release()

	if l.FFprobePath != "" && l.MaxDuration > 0 {
		meta, err := Probe(ctx, l.FFprobePath, in.Path)
		switch {
		case ctx.Err() != nil:
			return nil, 0, ctx.Err()
		case errors.Is(err, errNoAudioStream):
			return nil, 0, models.InvalidAudio("upload has no audio stream")
		case err != nil:
			return nil, 0, models.InvalidAudio("unreadable audio: %v", err)
		case time.Duration(meta.DurationSec*float64(time.Second)) > l.MaxDuration:
			return nil, 0, models.InvalidAudio("recording is %.0fs long, the limit is %s", meta.DurationSec, l.MaxDuration)
		}
	}

	outPath := utils.TempPath(l.TempDir, ".wav")
	defer utils.DeleteFile(outPath)

	err = ConvertToMonoWAV(ctx, in.Path, outPath, ConvertWAVConfig{
		FFmpegPath: l.FFmpegPath,
		SampleRate: l.SampleRate,
		Timeout:    l.Timeout,
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, err
		}
		return nil, 0, models.InvalidAudio("could not decode audio: %v", err)
	}
	return ReadWAVFile(outPath)
}

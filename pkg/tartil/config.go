package tartil

import (
	"os"
	"time"

	"github.com/himanishpuri/Tartil/pkg/tartil/features"
	"github.com/himanishpuri/Tartil/pkg/tartil/reference"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

// DefaultMaxCells caps the DTW matrix at about 320 MB of float64 cells.
const DefaultMaxCells = 40_000_000

type Config struct {
	StoreOptions reference.OpenOptions
	TempDir      string
	SampleRate   int
	FFmpegPath   string
	FFprobePath  string
	MaxDuration  time.Duration
	MaxCells     int
	Logger       Logger
	Resolver     *reference.Resolver
	Calibration  *scoring.Holder
	Extractor    Extractor
	Decoder      AudioDecoder
	Recorder     Recorder
}

type Option func(*Config)

// WithStoreOptions selects the store NewService opens when no resolver is
// given.
func WithStoreOptions(opts reference.OpenOptions) Option {
	return func(c *Config) {
		c.StoreOptions = opts
	}
}

// WithStore serves references from store, labelled name.
func WithStore(name string, store reference.Store) Option {
	return func(c *Config) {
		c.Resolver = reference.NewResolver(name, store)
	}
}

func WithResolver(r *reference.Resolver) Option {
	return func(c *Config) {
		c.Resolver = r
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithFFmpeg enables transcoding of non-WAV uploads. ffprobe may be empty.
func WithFFmpeg(ffmpeg, ffprobe string) Option {
	return func(c *Config) {
		c.FFmpegPath = ffmpeg
		c.FFprobePath = ffprobe
	}
}

func WithMaxDuration(d time.Duration) Option {
	return func(c *Config) {
		c.MaxDuration = d
	}
}

func WithMaxCells(n int) Option {
	return func(c *Config) {
		c.MaxCells = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithCalibration(h *scoring.Holder) Option {
	return func(c *Config) {
		c.Calibration = h
	}
}

func WithExtractor(e Extractor) Option {
	return func(c *Config) {
		c.Extractor = e
	}
}

func WithDecoder(d AudioDecoder) Option {
	return func(c *Config) {
		c.Decoder = d
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Config) {
		c.Recorder = r
	}
}

func defaultConfig() *Config {
	return &Config{
		StoreOptions: reference.OpenOptions{Kind: reference.KindSQLite, DBPath: reference.DefaultDBFile},
		TempDir:      os.TempDir(),
		SampleRate:   features.DefaultSampleRate,
		MaxCells:     DefaultMaxCells,
	}
}

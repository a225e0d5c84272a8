// Package config loads process configuration from flags, TARTIL_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/himanishpuri/Tartil/pkg/logger"
	"github.com/himanishpuri/Tartil/pkg/tartil"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
	"github.com/himanishpuri/Tartil/pkg/tartil/reference"
)

// EnvPrefix is prepended to every environment variable, e.g. TARTIL_PORT.
const EnvPrefix = "TARTIL"

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type Config struct {
	Port            int           `mapstructure:"port"`
	Store           string        `mapstructure:"store"`
	DBPath          string        `mapstructure:"db_path"`
	DataRoot        string        `mapstructure:"data_root"`
	S3              S3Config      `mapstructure:"s3"`
	TempDir         string        `mapstructure:"temp_dir"`
	SampleRate      int           `mapstructure:"sample_rate"`
	CalibrationPath string        `mapstructure:"calibration"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	MaxCells        int           `mapstructure:"max_cells"`
	LogLevel        string        `mapstructure:"log_level"`
	FFmpegPath      string        `mapstructure:"ffmpeg"`
	FFprobePath     string        `mapstructure:"ffprobe"`
}

// SetDefaults registers the default of every key on v. Keys without a default
// are invisible to environment lookup during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("store", reference.KindSQLite)
	v.SetDefault("db_path", reference.DefaultDBFile)
	v.SetDefault("data_root", "references")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("temp_dir", os.TempDir())
	v.SetDefault("sample_rate", features.DefaultSampleRate)
	v.SetDefault("calibration", "")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("max_concurrent", 4)
	v.SetDefault("request_timeout", 2*time.Minute)
	v.SetDefault("max_upload_bytes", int64(50<<20))
	v.SetDefault("max_duration", 2*time.Hour)
	v.SetDefault("max_cells", tartil.DefaultMaxCells)
	v.SetDefault("log_level", "info")
	v.SetDefault("ffmpeg", "")
	v.SetDefault("ffprobe", "")
}

// New returns a viper instance with defaults and environment lookup set up.
// When file is non-empty it is read as YAML.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return v, nil
}

// BindFlags binds the flags of cmd that share a name with a config key, with
// dashes in flag names mapped to underscores.
func BindFlags(v *viper.Viper, cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return fmt.Errorf("config: no flag %q", name)
		}
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind %q: %w", name, err)
		}
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port))
	}

	switch cfg.Store {
	case reference.KindSQLite:
		if cfg.DBPath == "" {
			errs = append(errs, errors.New("db_path is required when store is sqlite"))
		}
	case reference.KindDir:
		if cfg.DataRoot == "" {
			errs = append(errs, errors.New("data_root is required when store is dir"))
		}
	case reference.KindS3:
		if cfg.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required when store is s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("store %q is invalid; valid values: sqlite, dir, s3", cfg.Store))
	}

	if cfg.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("sample_rate %d is below 8000", cfg.SampleRate))
	}
	if cfg.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent must be >= 1, got %d", cfg.MaxConcurrent))
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", cfg.RequestTimeout))
	}
	if cfg.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", cfg.MaxUploadBytes))
	}
	if cfg.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("max_duration must not be negative, got %s", cfg.MaxDuration))
	}
	if cfg.MaxCells < 0 {
		errs = append(errs, fmt.Errorf("max_cells must not be negative, got %d", cfg.MaxCells))
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	for i, o := range cfg.AllowedOrigins {
		if o == "" {
			errs = append(errs, fmt.Errorf("allowed_origins[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// StoreOptions maps the store settings onto reference.OpenOptions.
func (c *Config) StoreOptions() reference.OpenOptions {
	return reference.OpenOptions{
		Kind:     c.Store,
		DBPath:   c.DBPath,
		DataRoot: c.DataRoot,
		Bucket:   c.S3.Bucket,
		Prefix:   c.S3.Prefix,
		Region:   c.S3.Region,
		Endpoint: c.S3.Endpoint,
	}
}

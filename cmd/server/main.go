//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/Tartil/internal/config"
	"github.com/himanishpuri/Tartil/internal/observe"
	"github.com/himanishpuri/Tartil/pkg/logger"
	"github.com/himanishpuri/Tartil/pkg/tartil"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tartil-server",
	Short: "HTTP API for scoring Quran recitations",
	Long: `tartil-server compares uploaded recitations against precomputed
reference spectrograms and returns a calibrated score and label.

Configuration comes from flags, TARTIL_* environment variables and an
optional YAML file, in that order of precedence.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.Int("port", 8080, "HTTP server port")
	f.String("store", "sqlite", "reference store: sqlite, dir or s3")
	f.String("db-path", "", "SQLite reference database")
	f.String("data-root", "", "reference directory for the dir store")
	f.String("calibration", "", "calibration YAML file (reloaded on SIGHUP)")
	f.String("temp-dir", "", "temporary directory for transcoding")
	f.String("ffmpeg", "", "ffmpeg binary; enables non-WAV uploads")
	f.String("ffprobe", "", "ffprobe binary; enables duration checks before transcoding")
	f.String("log-level", "", "debug, info, warn or error")
	f.Int("max-concurrent", 0, "maximum concurrent evaluations")
}

func runServer(cmd *cobra.Command, _ []string) error {
	v, err := config.New(cfgFile)
	if err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd, "port", "store", "db-path", "data-root", "calibration",
		"temp-dir", "ffmpeg", "ffprobe", "log-level", "max-concurrent"); err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log := logger.GetLogger()
	level, _ := logger.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "1.0.0"})
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())
	metrics := observe.DefaultMetrics()

	table := scoring.DefaultTable()
	if cfg.CalibrationPath != "" {
		if table, err = scoring.Load(cfg.CalibrationPath); err != nil {
			return err
		}
	}
	holder := scoring.NewHolder(table)

	// Create Tartil service
	service, err := tartil.NewService(
		tartil.WithStoreOptions(cfg.StoreOptions()),
		tartil.WithTempDir(cfg.TempDir),
		tartil.WithSampleRate(cfg.SampleRate),
		tartil.WithFFmpeg(cfg.FFmpegPath, cfg.FFprobePath),
		tartil.WithMaxDuration(cfg.MaxDuration),
		tartil.WithMaxCells(cfg.MaxCells),
		tartil.WithCalibration(holder),
		tartil.WithRecorder(metrics),
		tartil.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer service.Close()

	server := NewServer(service, &ServerConfig{
		Port:            cfg.Port,
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxConcurrent:   cfg.MaxConcurrent,
		RequestTimeout:  cfg.RequestTimeout,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		CalibrationPath: cfg.CalibrationPath,
	}, metrics, holder, log)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				_ = server.ReloadCalibration(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return server.Start(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

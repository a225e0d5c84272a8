//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/Tartil/internal/config"
	"github.com/himanishpuri/Tartil/pkg/logger"
	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil"
	"github.com/himanishpuri/Tartil/pkg/tartil/reference"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

var (
	cfgFile string
	cfg     *config.Config
)

// storeFlags are the persistent flags shared by every command that opens the
// reference store.
var storeFlags = []string{"store", "db-path", "data-root", "calibration", "temp-dir", "ffmpeg", "ffprobe", "log-level", "sample-rate"}

var rootCmd = &cobra.Command{
	Use:   "tartil",
	Short: "Score Quran recitations against reference spectrograms",
	Long: `tartil evaluates recitations offline and manages the reference store
the server reads from: importing reference recordings, listing what is
stored, rendering spectrograms and checking calibration files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		v, err := config.New(cfgFile)
		if err != nil {
			return err
		}
		if err := config.BindFlags(v, cmd, storeFlags...); err != nil {
			return err
		}
		if cfg, err = config.Load(v); err != nil {
			return err
		}
		level, _ := logger.ParseLevel(cfg.LogLevel)
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("store", "sqlite", "reference store: sqlite, dir or s3")
	pf.String("db-path", "", "SQLite reference database")
	pf.String("data-root", "", "reference directory for the dir store")
	pf.String("calibration", "", "calibration YAML file")
	pf.String("temp-dir", "", "temporary directory for transcoding")
	pf.String("ffmpeg", "", "ffmpeg binary; enables non-WAV input")
	pf.String("ffprobe", "", "ffprobe binary")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.Int("sample-rate", 0, "analysis sample rate in Hz")

	rootCmd.AddCommand(newEvaluateCmd(), newImportCmd(), newListCmd(), newRenderCmd(), newCalibrationCmd())
}

// openStore opens the configured reference store.
func openStore(ctx context.Context) (reference.Store, error) {
	store, err := reference.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", reference.Describe(cfg.StoreOptions()), err)
	}
	return store, nil
}

// createService creates a Tartil service with configured options
func createService(ctx context.Context) (tartil.Service, error) {
	table := scoring.DefaultTable()
	if cfg.CalibrationPath != "" {
		var err error
		if table, err = scoring.Load(cfg.CalibrationPath); err != nil {
			return nil, err
		}
	}
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return tartil.NewService(
		tartil.WithStore(reference.Describe(cfg.StoreOptions()), store),
		tartil.WithTempDir(cfg.TempDir),
		tartil.WithSampleRate(cfg.SampleRate),
		tartil.WithFFmpeg(cfg.FFmpegPath, cfg.FFprobePath),
		tartil.WithMaxDuration(cfg.MaxDuration),
		tartil.WithMaxCells(cfg.MaxCells),
		tartil.WithCalibration(scoring.NewHolder(table)),
	)
}

// keyFlags holds the coordinate flags of commands that address one reference.
type keyFlags struct {
	level string
	surah int
	ayah  int
	word  int
}

func (k *keyFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&k.level, "level", "", "word, ayah or surah (inferred when empty)")
	f.IntVar(&k.surah, "surah", 0, "surah number (1-114)")
	f.IntVar(&k.ayah, "ayah", 0, "ayah number")
	f.IntVar(&k.word, "word", 0, "word number")
	_ = cmd.MarkFlagRequired("surah")
}

// key builds the reference key. Flags left at zero count as absent.
func (k *keyFlags) key() (models.ReferenceKey, error) {
	var ayah, word *int
	if k.ayah != 0 {
		ayah = &k.ayah
	}
	if k.word != 0 {
		word = &k.word
	}
	if k.level == "" {
		return models.InferKey(k.surah, ayah, word)
	}
	level, err := models.ParseLevel(k.level)
	if err != nil {
		return models.ReferenceKey{}, err
	}
	return models.KeyFor(level, k.surah, ayah, word)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/Tartil/pkg/logger"
	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/audio"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
	"github.com/himanishpuri/Tartil/pkg/tartil/reference"
)

// DefaultImportBands matches the band count the reference corpus was built
// with.
const DefaultImportBands = 128

// audioExts are the extensions picked up by import --dir.
var audioExts = map[string]bool{".wav": true, ".mp3": true, ".m4a": true, ".ogg": true, ".flac": true, ".webm": true}

// importJob is one recording to turn into a stored reference.
type importJob struct {
	key  models.ReferenceKey
	path string
}

// importer computes reference spectrograms and writes them to a store.
type importer struct {
	loader    *audio.Loader
	extractor *features.Extractor
	writer    reference.Writer
	bands     int
}

func newImporter(writer reference.Writer, bands int) (*importer, error) {
	fc := features.DefaultConfig()
	if cfg != nil && cfg.SampleRate > 0 {
		fc.SampleRate = cfg.SampleRate
	}
	ex, err := features.New(fc)
	if err != nil {
		return nil, err
	}
	loader := &audio.Loader{SampleRate: fc.SampleRate}
	if cfg != nil {
		loader.FFmpegPath = cfg.FFmpegPath
		loader.FFprobePath = cfg.FFprobePath
		loader.TempDir = cfg.TempDir
	}
	return &importer{loader: loader, extractor: ex, writer: writer, bands: bands}, nil
}

// run decodes, extracts and stores one recording.
func (im *importer) run(ctx context.Context, job importJob) (*models.Spectrogram, error) {
	data, err := os.ReadFile(job.path)
	if err != nil {
		return nil, err
	}
	samples, err := im.loader.Load(ctx, data)
	if err != nil {
		return nil, err
	}
	spec, err := im.extractor.Extract(samples, im.bands)
	if err != nil {
		return nil, err
	}
	if err := im.writer.Put(ctx, job.key, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// collectImports maps the audio files under root to keys using their path
// relative to root, e.g. root/word/001/002/003.wav is word 1:2:3.
func collectImports(root string) ([]importJob, error) {
	var jobs []importJob
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if d.IsDir() || !audioExts[ext] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key, err := models.ParseKeyPath(filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel))))
		if err != nil {
			logger.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		jobs = append(jobs, importJob{key: key, path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// importAll runs jobs with at most workers in flight. Failed files are logged
// and counted; the first error is only returned when nothing was imported.
func (im *importer) importAll(ctx context.Context, jobs []importJob, workers int) (imported, failed int64, err error) {
	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range jobs {
		g.Go(func() error {
			spec, err := im.run(gctx, job)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				bad.Add(1)
				logger.Errorf("Failed to import %s from %s: %v", job.key, job.path, err)
				return nil
			}
			ok.Add(1)
			logger.Debugf("Imported %s (%d frames)", job.key, spec.Frames())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ok.Load(), bad.Load(), err
	}
	return ok.Load(), bad.Load(), nil
}

func newImportCmd() *cobra.Command {
	var (
		keys    keyFlags
		dir     string
		bands   int
		workers int
	)
	cmd := &cobra.Command{
		Use:   "import [audio-file]",
		Short: "Compute reference spectrograms and add them to the store",
		Example: `  tartil import reciter/001002003.wav --surah 1 --ayah 2 --word 3
  tartil import --dir ./recordings --store dir --data-root ./references`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if (dir == "") == (len(args) == 0) {
				return fmt.Errorf("pass either an audio file or --dir")
			}
			if bands <= 0 || bands > features.MaxBands {
				return fmt.Errorf("bands must be between 1 and %d", features.MaxBands)
			}
			if workers < 1 {
				workers = 1
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, 0)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			writer, ok := store.(reference.Writer)
			if !ok {
				return fmt.Errorf("store %s is read-only", reference.Describe(cfg.StoreOptions()))
			}
			im, err := newImporter(writer, bands)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				key, err := keys.key()
				if err != nil {
					return err
				}
				spec, err := im.run(ctx, importJob{key: key, path: args[0]})
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s: %d bands x %d frames\n", key, spec.Bands(), spec.Frames())
				return nil
			}

			jobs, err := collectImports(dir)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return fmt.Errorf("no recordings found under %s", dir)
			}
			logger.Infof("Importing %d recordings from %s with %d workers", len(jobs), dir, workers)
			imported, failed, err := im.importAll(ctx, jobs, workers)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d references, %d failed\n", imported, failed)
			if err != nil {
				return err
			}
			if imported == 0 {
				return fmt.Errorf("no references imported")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&keys.level, "level", "", "word, ayah or surah (inferred when empty)")
	f.IntVar(&keys.surah, "surah", 0, "surah number (1-114)")
	f.IntVar(&keys.ayah, "ayah", 0, "ayah number")
	f.IntVar(&keys.word, "word", 0, "word number")
	f.StringVar(&dir, "dir", "", "import every recording under this directory, keyed by path")
	f.IntVar(&bands, "bands", DefaultImportBands, "mel bands to compute")
	f.IntVar(&workers, "workers", runtime.NumCPU(), "parallel imports for --dir")
	return cmd
}

package tartil

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/himanishpuri/Tartil/pkg/logger"
	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/audio"
	"github.com/himanishpuri/Tartil/pkg/tartil/dtw"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
	"github.com/himanishpuri/Tartil/pkg/tartil/reference"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

// tartilService is the default implementation of the Service interface.
type tartilService struct {
	resolver    *reference.Resolver
	calibration *scoring.Holder
	extractor   Extractor
	decoder     AudioDecoder
	recorder    Recorder
	log         Logger
	config      *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Calibration == nil {
		cfg.Calibration = scoring.NewHolder(nil)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	if cfg.Extractor == nil {
		fcfg := features.DefaultConfig()
		fcfg.SampleRate = cfg.SampleRate
		ex, err := features.New(fcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create extractor: %w", err)
		}
		cfg.Extractor = ex
	}

	if cfg.Decoder == nil {
		cfg.Decoder = &audio.Loader{
			SampleRate:  cfg.Extractor.SampleRate(),
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			TempDir:     cfg.TempDir,
			MaxDuration: cfg.MaxDuration,
		}
	}

	if cfg.Resolver == nil {
		store, err := reference.Open(context.Background(), cfg.StoreOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open reference store: %w", err)
		}
		cfg.Resolver = reference.NewResolver(reference.Describe(cfg.StoreOptions), store)
	}

	return &tartilService{
		resolver:    cfg.Resolver,
		calibration: cfg.Calibration,
		extractor:   cfg.Extractor,
		decoder:     cfg.Decoder,
		recorder:    cfg.Recorder,
		log:         cfg.Logger,
		config:      cfg,
	}, nil
}

type ctxLoggerKey struct{}

// ContextWithLogger makes the service log through l for evaluations run with
// the returned context. The server uses it to attach request IDs.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

func (s *tartilService) logger(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxLoggerKey{}).(Logger); ok && l != nil {
		return l
	}
	return s.log
}

// userFeatures produces the user spectrogram for a reference with the given
// band count, recording stage timings into t.
type userFeatures func(ctx context.Context, bands int, t *Timings) (*models.Spectrogram, error)

// Evaluate decodes audio, extracts its spectrogram at the reference band
// count and scores it.
func (s *tartilService) Evaluate(ctx context.Context, key models.ReferenceKey, data []byte) (*models.Outcome, error) {
	return s.evaluate(ctx, key, func(ctx context.Context, bands int, t *Timings) (*models.Spectrogram, error) {
		start := time.Now()
		samples, err := s.decoder.Load(ctx, data)
		t.Decode = time.Since(start)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start = time.Now()
		user, err := s.extractor.Extract(samples, bands)
		t.Extract = time.Since(start)
		return user, err
	})
}

// EvaluateFeatures scores a caller-supplied spectrogram. Problems with it are
// the caller's fault and reported as invalid audio.
func (s *tartilService) EvaluateFeatures(ctx context.Context, key models.ReferenceKey, user *models.Spectrogram) (*models.Outcome, error) {
	return s.evaluate(ctx, key, func(_ context.Context, bands int, _ *Timings) (*models.Spectrogram, error) {
		if err := user.Validate(); err != nil {
			return nil, models.InvalidAudio("invalid spectrogram: %v", err)
		}
		if user.Bands() != bands {
			return nil, models.InvalidAudio("spectrogram has %d bands, reference needs %d", user.Bands(), bands)
		}
		return user, nil
	})
}

func (s *tartilService) evaluate(ctx context.Context, key models.ReferenceKey, produce userFeatures) (out *models.Outcome, err error) {
	log := s.logger(ctx)
	start := time.Now()
	rec := Record{Level: key.Level()}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("BUG: panic evaluating %s: %v\n%s", key, r, debug.Stack())
			out, err = nil, models.Internal(fmt.Errorf("panic: %v", r))
		}
		rec.Timings.Total = time.Since(start)
		rec.Category = models.CategoryOf(err)
		s.report(ctx, log, key, rec, err)
	}()

	// 1. Validate coordinates
	if err := key.Validate(); err != nil {
		return nil, err
	}
	log.Infof("Evaluating %s", key)

	// 2. Resolve the reference
	t0 := time.Now()
	ref, err := s.resolver.Resolve(ctx, key)
	rec.Timings.Resolve = time.Since(t0)
	if err != nil {
		return nil, err
	}
	rec.RefFrames = ref.Frames()
	log.Debugf("Reference %s is %d bands x %d frames", key, ref.Bands(), ref.Frames())
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation aborted after resolve: %w", err)
	}

	// 3. Produce the user spectrogram at the reference band count
	user, err := produce(ctx, ref.Bands(), &rec.Timings)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("evaluation aborted before alignment: %w", ctxErr)
		}
		return nil, err
	}
	rec.UserFrames = user.Frames()
	log.Debugf("User spectrogram is %d bands x %d frames", user.Bands(), user.Frames())
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation aborted after extraction: %w", err)
	}

	// 4. Align
	t0 = time.Now()
	res, err := dtw.Align(ctx, ref, user, dtw.Options{MaxCells: s.config.MaxCells})
	rec.Timings.Align = time.Since(t0)
	if err != nil {
		if errors.Is(err, dtw.ErrTooLarge) {
			return nil, models.InvalidAudio("recording is too long to align against this reference (%v)", err)
		}
		return nil, err
	}
	log.Debugf("Alignment distance=%.4f avg_cost=%.4f path=%d", res.Distance, res.AvgCost, res.PathLength)

	// 5. Score and label
	table := s.calibration.Load()
	score, label, info, err := table.Grade(res.Distance, key.Level())
	if err != nil {
		return nil, err
	}
	rec.Score, rec.Label = score, label

	outcome := models.NewOutcome(key, res.AlignmentResult, score, label, info, table.Version)
	return &outcome, nil
}

// report logs the final state of an evaluation and forwards it to the recorder.
func (s *tartilService) report(ctx context.Context, log Logger, key models.ReferenceKey, rec Record, err error) {
	switch {
	case err == nil:
		log.Infof("Evaluated %s: score=%.4f label=%s in %s", key, rec.Score, rec.Label, rec.Timings.Total.Round(time.Millisecond))
	case errors.Is(err, models.ErrShapeMismatch):
		log.Errorf("BUG: shape mismatch evaluating %s: %v", key, err)
	case rec.Category == models.CategoryServer:
		log.Errorf("Evaluation of %s failed: %v", key, err)
	default:
		log.Warnf("Evaluation of %s rejected (%s): %v", key, rec.Category, err)
	}
	s.recorder.RecordEvaluation(ctx, rec)
}

func (s *tartilService) Ping(ctx context.Context) error {
	return s.resolver.Ping(ctx)
}

func (s *tartilService) StoreName() string {
	return s.resolver.Name()
}

func (s *tartilService) Calibration() *scoring.Table {
	return s.calibration.Load()
}

func (s *tartilService) Close() error {
	return s.resolver.Close()
}

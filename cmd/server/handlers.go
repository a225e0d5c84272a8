package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/himanishpuri/Tartil/internal/observe"
	"github.com/himanishpuri/Tartil/pkg/logger"
	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

const serviceName = "tartil"

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to disk.
const multipartMemory = 32 << 20

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service     tartil.Service
	config      *ServerConfig
	log         *logger.Logger
	metrics     *observe.Metrics
	calibration *scoring.Holder
	sem         *semaphore.Weighted
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	MaxConcurrent   int
	RequestTimeout  time.Duration
	MaxUploadBytes  int64
	CalibrationPath string
}

// NewServer creates a new server instance. calibration must be the holder the
// service scores with, so that reloads take effect.
func NewServer(service tartil.Service, config *ServerConfig, metrics *observe.Metrics, calibration *scoring.Holder, log *logger.Logger) *Server {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Server{
		service:     service,
		config:      config,
		log:         log,
		metrics:     metrics,
		calibration: calibration,
		sem:         semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps an evaluation error onto an HTTP status.
func statusFor(err error) int {
	switch models.CategoryOf(err) {
	case models.CategoryNone:
		return http.StatusOK
	case models.CategoryClient:
		return http.StatusBadRequest
	case models.CategoryNotFound:
		return http.StatusNotFound
	case models.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondEvalError writes err with its public message only. The service has
// already logged the cause.
func (s *Server) respondEvalError(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), models.PublicMessage(err))
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "Tartil recitation scoring API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"metrics":       "GET /metrics",
			"calibration":   "GET /calibration",
			"evaluate":      "POST /evaluate",
			"evaluateWord":  "POST /evaluate/word",
			"evaluateAyah":  "POST /evaluate/ayah",
			"evaluateSurah": "POST /evaluate/surah",
			"features":      "POST /evaluate/features",
		},
	})
}

// handleHealth handles GET /health. It checks store reachability and never
// evaluates anything.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	reachable := true
	if err := s.service.Ping(ctx); err != nil {
		requestLogger(r, s.log).Warnf("Reference store unreachable: %v", err)
		reachable = false
	}

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		Service:            serviceName,
		Store:              s.service.StoreName(),
		StoreReachable:     reachable,
		CalibrationVersion: s.service.Calibration().Version,
	})
}

// handleCalibration handles GET /calibration
func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, newCalibrationResponse(s.service.Calibration()))
}

// handleEvaluate handles POST /evaluate/{level} (multipart upload). An empty
// level infers it from the submitted coordinates.
func (s *Server) handleEvaluate(level models.Level) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, s.log)
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
				return
			}
			log.Warnf("Failed to parse form: %v", err)
			s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
			return
		}
		defer r.MultipartForm.RemoveAll()

		key, err := keyFromForm(r, level)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		file, _, err := r.FormFile("audio")
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "audio file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			log.Errorf("Failed to read upload: %v", err)
			s.respondError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}

		s.evaluate(w, r, func(ctx context.Context) (*models.Outcome, error) {
			return s.service.Evaluate(ctx, key, data)
		})
	}
}

// handleEvaluateFeatures handles POST /evaluate/features (client-computed
// spectrograms, e.g. from the WASM build)
func (s *Server) handleEvaluateFeatures(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	var req FeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := req.Key()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec, err := models.SpectrogramFromFlat(req.Bands, req.Frames, req.Data)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.evaluate(w, r, func(ctx context.Context) (*models.Outcome, error) {
		return s.service.EvaluateFeatures(ctx, key, spec)
	})
}

// evaluate admits the request, runs fn under the request timeout and writes
// the outcome.
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request, fn func(context.Context) (*models.Outcome, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.metrics.Rejected.Add(ctx, 1)
		s.respondError(w, http.StatusServiceUnavailable, "server is busy, try again later")
		return
	}
	defer s.sem.Release(1)
	s.metrics.InFlight.Add(ctx, 1)
	defer s.metrics.InFlight.Add(context.Background(), -1)

	ctx = tartil.ContextWithLogger(ctx, requestLogger(r, s.log))
	out, err := fn(ctx)
	if err != nil {
		s.respondEvalError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newEvaluationResponse(out))
}

// keyFromForm reads surah, ayah and word form fields.
func keyFromForm(r *http.Request, level models.Level) (models.ReferenceKey, error) {
	surah, err := formInt(r, "surah")
	if err != nil {
		return models.ReferenceKey{}, err
	}
	if surah == nil {
		return models.ReferenceKey{}, errors.New("surah is required")
	}
	ayah, err := formInt(r, "ayah")
	if err != nil {
		return models.ReferenceKey{}, err
	}
	word, err := formInt(r, "word")
	if err != nil {
		return models.ReferenceKey{}, err
	}

	if level == "" {
		return models.InferKey(*surah, ayah, word)
	}
	return models.KeyFor(level, *surah, ayah, word)
}

// formInt returns nil for an absent or empty field.
func formInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return &n, nil
}

// ReloadCalibration rereads the calibration file. On failure the current
// table stays in effect.
func (s *Server) ReloadCalibration(ctx context.Context) error {
	if s.config.CalibrationPath == "" {
		return errors.New("no calibration file configured")
	}
	t, err := s.calibration.Reload(s.config.CalibrationPath)
	s.metrics.RecordCalibrationReload(ctx, err)
	if err != nil {
		s.log.Errorf("Calibration reload failed, keeping version %s: %v", s.calibration.Load().Version, err)
		return err
	}
	s.log.Infof("Calibration reloaded: version %s", t.Version)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/himanishpuri/Tartil/pkg/logger"
	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/utils"
)

// setupRoutes registers all HTTP routes and middleware
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Root endpoint
	mux.HandleFunc("/", s.handleRoot)

	// Health and metrics
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /calibration", s.handleCalibration)

	// Evaluation endpoints
	mux.HandleFunc("POST /evaluate", s.handleEvaluate(""))
	mux.HandleFunc("POST /evaluate/word", s.handleEvaluate(models.LevelWord))
	mux.HandleFunc("POST /evaluate/ayah", s.handleEvaluate(models.LevelAyah))
	mux.HandleFunc("POST /evaluate/surah", s.handleEvaluate(models.LevelSurah))
	mux.HandleFunc("POST /evaluate/features", s.handleEvaluateFeatures)

	handler := s.loggingMiddleware(mux)
	handler = requestIDMiddleware(s.log)(handler)
	return corsMiddleware(s.config.AllowedOrigins)(handler)
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
				// Allow all origins
				w.Header().Set("Access-Control-Allow-Origin", "*")
				allowed = true
			} else {
				for _, allowedOrigin := range allowedOrigins {
					if allowedOrigin == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Set("Access-Control-Allow-Credentials", "true")
						w.Header().Add("Vary", "Origin")
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type requestLoggerKey struct{}

// requestIDMiddleware tags each request with an ID, taken from X-Request-ID
// when the client sends one, and attaches a logger carrying it.
func requestIDMiddleware(base *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if id == "" || len(id) > 128 {
				id = utils.NewRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestLoggerKey{}, base.With("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogger returns the request's logger, or fallback outside the
// middleware chain.
func requestLogger(r *http.Request, fallback *logger.Logger) *logger.Logger {
	if l, ok := r.Context().Value(requestLoggerKey{}).(*logger.Logger); ok {
		return l
	}
	return fallback
}

// loggingMiddleware logs all HTTP requests and records their latency
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		log := requestLogger(r, s.log)
		log.Debugf("%s %s from %s", r.Method, r.URL.Path, getClientIP(r))

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		s.metrics.HTTPRequestDuration.Record(r.Context(), elapsed.Seconds(), metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", r.Pattern),
			attribute.Int("status", wrapped.statusCode),
		))
		log.Infof("%s %s -> %d (%s)", r.Method, r.URL.Path, wrapped.statusCode, elapsed.Round(time.Millisecond))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr without the port
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Start serves until ctx is cancelled, then drains in-flight requests for up
// to the request timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Infof("Tartil server starting on %s", addr)
	s.log.Infof("   Store: %s", s.service.StoreName())
	s.log.Infof("   Calibration: %s", s.service.Calibration().Version)
	s.log.Infof("   CORS Origins: %v", s.config.AllowedOrigins)
	s.log.Infof("   Max concurrent evaluations: %d", s.config.MaxConcurrent)
	s.log.Infof("Endpoints:")
	s.log.Infof("   GET    /health               - Health check")
	s.log.Infof("   GET    /metrics              - Prometheus metrics")
	s.log.Infof("   GET    /calibration          - Active calibration table")
	s.log.Infof("   POST   /evaluate             - Evaluate, level inferred")
	s.log.Infof("   POST   /evaluate/word        - Evaluate a word")
	s.log.Infof("   POST   /evaluate/ayah        - Evaluate an ayah")
	s.log.Infof("   POST   /evaluate/surah       - Evaluate a surah")
	s.log.Infof("   POST   /evaluate/features    - Evaluate a client-computed spectrogram")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infof("Shutting down, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

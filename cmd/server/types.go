package main

import (
	"fmt"
	"math"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

// MaxFeatureValues bounds the spectrogram accepted by POST /evaluate/features
// (about 40 minutes of 128-band frames).
const MaxFeatureValues = 128 * 50_000

// EvaluationResponse is the response of every evaluate endpoint.
type EvaluationResponse struct {
	Level        string  `json:"level"`
	Surah        int     `json:"surah"`
	Ayah         *int    `json:"ayah,omitempty"`
	Word         *int    `json:"word,omitempty"`
	DTWDistance  float64 `json:"dtw_distance"`
	AvgCost      float64 `json:"avg_cost"`
	Score        float64 `json:"score"`
	ScorePercent float64 `json:"score_percent"`
	Label        string  `json:"label"`
	LabelDisplay string  `json:"label_display"`
	Color        string  `json:"color"`

	CalibrationVersion string `json:"calibration_version"`
}

func newEvaluationResponse(o *models.Outcome) EvaluationResponse {
	return EvaluationResponse{
		Level:              string(o.Level),
		Surah:              o.Surah,
		Ayah:               o.Ayah,
		Word:               o.Word,
		DTWDistance:        round(o.Distance, 4),
		AvgCost:            round(o.AvgCost, 4),
		Score:              round(o.Score, 4),
		ScorePercent:       round(o.ScorePercent, 2),
		Label:              string(o.Label),
		LabelDisplay:       o.LabelDisplay,
		Color:              o.Color,
		CalibrationVersion: o.CalibrationVersion,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// FeaturesRequest is the request body for POST /evaluate/features. Data is
// band-major: Data[b*Frames+t] is band b at frame t.
type FeaturesRequest struct {
	Level  string    `json:"level,omitempty"`
	Surah  int       `json:"surah"`
	Ayah   *int      `json:"ayah,omitempty"`
	Word   *int      `json:"word,omitempty"`
	Bands  int       `json:"bands"`
	Frames int       `json:"frames"`
	Data   []float32 `json:"data"`
}

// Validate checks the request shape. Value checks happen in the service.
func (r *FeaturesRequest) Validate() error {
	if r.Bands <= 0 || r.Bands > features.MaxBands {
		return fmt.Errorf("bands must be between 1 and %d, got %d", features.MaxBands, r.Bands)
	}
	if r.Frames <= 0 {
		return fmt.Errorf("frames must be positive, got %d", r.Frames)
	}
	if r.Bands*r.Frames > MaxFeatureValues {
		return fmt.Errorf("spectrogram too large: %d values (maximum: %d)", r.Bands*r.Frames, MaxFeatureValues)
	}
	if len(r.Data) != r.Bands*r.Frames {
		return fmt.Errorf("data has %d values, %d×%d needs %d", len(r.Data), r.Bands, r.Frames, r.Bands*r.Frames)
	}
	return nil
}

// Key builds the reference key. An empty level is inferred from which
// coordinates are present.
func (r *FeaturesRequest) Key() (models.ReferenceKey, error) {
	if r.Level == "" {
		return models.InferKey(r.Surah, r.Ayah, r.Word)
	}
	level, err := models.ParseLevel(r.Level)
	if err != nil {
		return models.ReferenceKey{}, err
	}
	return models.KeyFor(level, r.Surah, r.Ayah, r.Word)
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status             string `json:"status"`
	Service            string `json:"service"`
	Store              string `json:"store"`
	StoreReachable     bool   `json:"store_reachable"`
	CalibrationVersion string `json:"calibration_version"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// CalibrationResponse is the response for GET /calibration.
type CalibrationResponse struct {
	Version string                       `json:"version"`
	Levels  map[string]LevelCalibration  `json:"levels"`
	Labels  map[string]LabelPresentation `json:"labels"`
}

type LevelCalibration struct {
	Scale      float64     `json:"scale"`
	Thresholds []Threshold `json:"thresholds"`
}

type Threshold struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
}

type LabelPresentation struct {
	Display string `json:"display"`
	Color   string `json:"color"`
}

func newCalibrationResponse(t *scoring.Table) CalibrationResponse {
	resp := CalibrationResponse{
		Version: t.Version,
		Levels:  make(map[string]LevelCalibration, len(t.Levels)),
		Labels:  make(map[string]LabelPresentation, len(t.Labels)),
	}
	for level, lc := range t.Levels {
		ths := make([]Threshold, len(lc.Thresholds))
		for i, th := range lc.Thresholds {
			ths[i] = Threshold{Label: string(th.Label), Min: th.Min}
		}
		resp.Levels[string(level)] = LevelCalibration{Scale: lc.Scale, Thresholds: ths}
	}
	for label, meta := range t.Labels {
		resp.Labels[string(label)] = LabelPresentation{Display: meta.Display, Color: meta.Color}
	}
	return resp
}

// Package scoring turns alignment distances into bounded scores and labels
// using a versioned, level-keyed calibration table.
package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/himanishpuri/Tartil/pkg/models"
	"gopkg.in/yaml.v3"
)

// Labels shipped with the default table.
const (
	LabelGood         models.Label = "good"
	LabelIntermediate models.Label = "intermediate"
	LabelWrong        models.Label = "wrong"
)

// DefaultVersion identifies the built-in calibration.
const DefaultVersion = "2026-10-01"

// Threshold assigns Label to every score >= Min.
type Threshold struct {
	Label models.Label `yaml:"label"`
	Min   float64      `yaml:"min"`
}

// LevelCalibration holds the constants for one evaluation level.
type LevelCalibration struct {
	// Scale is the distance at which the score reaches zero.
	Scale float64 `yaml:"scale"`

	// Thresholds are ordered from the best label down; the last one has Min 0.
	Thresholds []Threshold `yaml:"thresholds"`
}

// LabelMeta is the YAML form of models.LabelInfo.
type LabelMeta struct {
	Display string `yaml:"display"`
	Color   string `yaml:"color"`
}

// Table is the calibration table. It is never mutated after Validate
// succeeds; reloads build a new Table and swap it through a Holder.
type Table struct {
	Version string                            `yaml:"version"`
	Levels  map[models.Level]LevelCalibration `yaml:"levels"`
	Labels  map[models.Label]LabelMeta        `yaml:"labels"`
}

// DefaultTable returns the built-in calibration.
func DefaultTable() *Table {
	thresholds := func() []Threshold {
		return []Threshold{
			{Label: LabelGood, Min: 0.70},
			{Label: LabelIntermediate, Min: 0.40},
			{Label: LabelWrong, Min: 0},
		}
	}
	return &Table{
		Version: DefaultVersion,
		Levels: map[models.Level]LevelCalibration{
			models.LevelWord:  {Scale: 1500, Thresholds: thresholds()},
			models.LevelAyah:  {Scale: 15000, Thresholds: thresholds()},
			models.LevelSurah: {Scale: 150000, Thresholds: thresholds()},
		},
		Labels: map[models.Label]LabelMeta{
			LabelGood:         {Display: "Good", Color: "#22c55e"},
			LabelIntermediate: {Display: "Intermediate", Color: "#f59e0b"},
			LabelWrong:        {Display: "Wrong", Color: "#ef4444"},
		},
	}
}

// Load reads and validates a calibration table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	t, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("calibration %s: %w", path, err)
	}
	return t, nil
}

// LoadFromReader decodes and validates a calibration table. Unknown keys are
// rejected so typos do not silently fall back to zero values.
func LoadFromReader(r io.Reader) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode calibration: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that every level is calibrated and that the thresholds of
// each level partition [0,1].
func (t *Table) Validate() error {
	var errs []error
	if t.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	for _, lvl := range models.Levels {
		lc, ok := t.Levels[lvl]
		if !ok {
			errs = append(errs, fmt.Errorf("levels.%s: missing", lvl))
			continue
		}
		if !(lc.Scale > 0) || math.IsInf(lc.Scale, 0) {
			errs = append(errs, fmt.Errorf("levels.%s.scale: must be a positive finite number, got %v", lvl, lc.Scale))
		}
		if len(lc.Thresholds) == 0 {
			errs = append(errs, fmt.Errorf("levels.%s.thresholds: at least one threshold is required", lvl))
			continue
		}
		for i, th := range lc.Thresholds {
			if th.Label == "" {
				errs = append(errs, fmt.Errorf("levels.%s.thresholds[%d]: label is required", lvl, i))
			} else if _, ok := t.Labels[th.Label]; !ok {
				errs = append(errs, fmt.Errorf("levels.%s.thresholds[%d]: label %q has no metadata", lvl, i, th.Label))
			}
			if th.Min < 0 || th.Min > 1 || math.IsNaN(th.Min) {
				errs = append(errs, fmt.Errorf("levels.%s.thresholds[%d].min: must be in [0,1], got %v", lvl, i, th.Min))
			}
			if i > 0 && th.Min >= lc.Thresholds[i-1].Min {
				errs = append(errs, fmt.Errorf("levels.%s.thresholds[%d].min: must be below %v", lvl, i, lc.Thresholds[i-1].Min))
			}
		}
		if last := lc.Thresholds[len(lc.Thresholds)-1]; last.Min != 0 {
			errs = append(errs, fmt.Errorf("levels.%s.thresholds: last min must be 0, got %v", lvl, last.Min))
		}
	}
	for lvl := range t.Levels {
		if !lvl.Valid() {
			errs = append(errs, fmt.Errorf("levels.%s: unknown level", lvl))
		}
	}
	return errors.Join(errs...)
}

// Score maps a raw distance onto [0,1] with clamp(1 - distance/scale, 0, 1).
func (t *Table) Score(distance float64, level models.Level) (float64, error) {
	lc, ok := t.Levels[level]
	if !ok {
		return 0, models.Internal(fmt.Errorf("no calibration for level %q", level))
	}
	if math.IsNaN(distance) || distance < 0 {
		return 0, models.Internal(fmt.Errorf("invalid distance %v", distance))
	}
	return clamp(1-distance/lc.Scale, 0, 1), nil
}

// LabelOf returns the first label whose threshold score reaches.
func (t *Table) LabelOf(score float64, level models.Level) (models.Label, error) {
	lc, ok := t.Levels[level]
	if !ok {
		return "", models.Internal(fmt.Errorf("no calibration for level %q", level))
	}
	for _, th := range lc.Thresholds {
		if score >= th.Min {
			return th.Label, nil
		}
	}
	// Only reachable for scores below zero, which Score never produces.
	return lc.Thresholds[len(lc.Thresholds)-1].Label, nil
}

// Info returns the presentation metadata for label.
func (t *Table) Info(label models.Label) models.LabelInfo {
	m := t.Labels[label]
	return models.LabelInfo{Display: m.Display, Color: m.Color}
}

// Grade is Score, LabelOf, and Info combined.
func (t *Table) Grade(distance float64, level models.Level) (float64, models.Label, models.LabelInfo, error) {
	score, err := t.Score(distance, level)
	if err != nil {
		return 0, "", models.LabelInfo{}, err
	}
	label, err := t.LabelOf(score, level)
	if err != nil {
		return 0, "", models.LabelInfo{}, err
	}
	return score, label, t.Info(label), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

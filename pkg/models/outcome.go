package models

// Label is a score category identifier, e.g. "good".
type Label string

// LabelInfo is the presentation metadata attached to a label.
type LabelInfo struct {
	Display string
	Color   string
}

// AlignmentResult is the output of aligning a user spectrogram to a reference.
type AlignmentResult struct {
	Distance   float64 // cumulative cost at the final cell
	AvgCost    float64 // Distance divided by PathLength
	PathLength int     // number of cells on the optimal path
}

// Outcome is the externally visible result of one evaluation.
type Outcome struct {
	Level        Level
	Surah        int
	Ayah         *int
	Word         *int
	Distance     float64
	AvgCost      float64
	Score        float64 // normalized to [0,1]
	ScorePercent float64
	Label        Label
	LabelDisplay string
	Color        string

	// CalibrationVersion identifies the table the score was computed with.
	CalibrationVersion string
}

// NewOutcome assembles an outcome for key from the alignment and the scoring
// results.
func NewOutcome(key ReferenceKey, ar AlignmentResult, score float64, label Label, info LabelInfo, version string) Outcome {
	o := Outcome{
		Level:              key.Level(),
		Surah:              key.Surah(),
		Distance:           ar.Distance,
		AvgCost:            ar.AvgCost,
		Score:              score,
		ScorePercent:       score * 100,
		Label:              label,
		LabelDisplay:       info.Display,
		Color:              info.Color,
		CalibrationVersion: version,
	}
	if a, ok := key.Ayah(); ok {
		o.Ayah = &a
	}
	if w, ok := key.Word(); ok {
		o.Word = &w
	}
	return o
}

//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/Tartil/pkg/models"
)

func newEvaluateCmd() *cobra.Command {
	var (
		keys    keyFlags
		asJSON  bool
		timeout = defaultCommandTimeout
	)
	cmd := &cobra.Command{
		Use:   "evaluate <audio-file>",
		Short: "Score a recitation against its reference",
		Example: `  tartil evaluate recording.wav --surah 1 --ayah 2 --word 3
  tartil evaluate fatiha.mp3 --surah 1 --ffmpeg ffmpeg --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keys.key()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read audio: %w", err)
			}

			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			service, err := createService(ctx)
			if err != nil {
				return err
			}
			defer service.Close()

			outcome, err := service.Evaluate(ctx, key, data)
			if err != nil {
				return err
			}
			if asJSON {
				return writeOutcomeJSON(cmd.OutOrStdout(), outcome)
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
	keys.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "evaluation timeout")
	return cmd
}

type outcomeJSON struct {
	Level              string  `json:"level"`
	Surah              int     `json:"surah"`
	Ayah               *int    `json:"ayah,omitempty"`
	Word               *int    `json:"word,omitempty"`
	DTWDistance        float64 `json:"dtw_distance"`
	AvgCost            float64 `json:"avg_cost"`
	Score              float64 `json:"score"`
	ScorePercent       float64 `json:"score_percent"`
	Label              string  `json:"label"`
	LabelDisplay       string  `json:"label_display"`
	Color              string  `json:"color"`
	CalibrationVersion string  `json:"calibration_version"`
}

func writeOutcomeJSON(w io.Writer, o *models.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outcomeJSON{
		Level:              string(o.Level),
		Surah:              o.Surah,
		Ayah:               o.Ayah,
		Word:               o.Word,
		DTWDistance:        o.Distance,
		AvgCost:            o.AvgCost,
		Score:              o.Score,
		ScorePercent:       o.ScorePercent,
		Label:              string(o.Label),
		LabelDisplay:       o.LabelDisplay,
		Color:              o.Color,
		CalibrationVersion: o.CalibrationVersion,
	})
}

func printOutcome(w io.Writer, o *models.Outcome) {
	coords := fmt.Sprintf("%d", o.Surah)
	if o.Ayah != nil {
		coords += fmt.Sprintf(":%d", *o.Ayah)
	}
	if o.Word != nil {
		coords += fmt.Sprintf(":%d", *o.Word)
	}
	fmt.Fprintf(w, "\n%s %s\n", o.Level, coords)
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintf(w, "  Score:        %.2f%% (%s)\n", o.ScorePercent, o.LabelDisplay)
	fmt.Fprintf(w, "  DTW distance: %.4f\n", o.Distance)
	fmt.Fprintf(w, "  Avg cost:     %.4f\n", o.AvgCost)
	fmt.Fprintf(w, "  Calibration:  %s\n", o.CalibrationVersion)
}

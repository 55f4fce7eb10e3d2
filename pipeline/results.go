package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/videospec"
)

// SpecResult is recorded by spec_build.
type SpecResult struct {
	Spec     videospec.VideoSpec `json:"spec"`
	Warnings []string            `json:"warnings,omitempty"`
}

// SelectResult is recorded by asset_select. Spec carries the reference
// mapping; AnchorImages maps beat id to the image that opens it.
type SelectResult struct {
	Entities     videospec.Entities  `json:"entities"`
	Spec         videospec.VideoSpec `json:"spec"`
	AnchorImages map[string]string   `json:"anchor_images,omitempty"`
}

// GenerateResult is recorded by generate.
type GenerateResult struct {
	Chunks []chunking.Chunk `json:"chunks"`
}

// StitchResult is recorded by stitch.
type StitchResult struct {
	VideoURL string `json:"video_url"`
}

// ScoreResult is recorded by score.
type ScoreResult struct {
	MusicURL string `json:"music_url"`
	VideoURL string `json:"video_url"`
}

func (o *Orchestrator) loadResult(ctx context.Context, runID string, stage Stage, out interface{}) error {
	data, ok, err := o.store.LoadStageResult(ctx, runID, stage)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no %s result recorded for run %s", stage, runID)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s result: %w", stage, err)
	}
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type RunChunk struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RunID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_run_chunk_index" json:"run_id"`
	ChunkIndex   int       `gorm:"not null;uniqueIndex:idx_run_chunk_index" json:"chunk_index"`
	BeatID       string    `gorm:"size:64;not null" json:"beat_id"`
	BeatIndex    int       `gorm:"not null" json:"beat_index"`
	Ordinal      int       `gorm:"not null" json:"ordinal"`
	StartOffset  int       `gorm:"not null" json:"start_offset"`
	Duration     int       `gorm:"not null" json:"duration"`
	SourceImage  string    `gorm:"type:text" json:"source_image,omitempty"`
	OutputURL    string    `gorm:"type:text" json:"output_url,omitempty"`
	LastFrameURL string    `gorm:"type:text" json:"last_frame_url,omitempty"`
	State        string    `gorm:"size:16;not null" json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (RunChunk) TableName() string {
	return "run_chunks"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{&User{}, &ReferenceAsset{}, &PipelineRun{}, &StageResult{}, &RunChunk{}, &CostEntry{}}
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PipelineRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"run_id"`
	UserID          uint           `gorm:"not null;index" json:"user_id"`
	Prompt          string         `gorm:"type:text;not null" json:"prompt"`
	TotalDuration   int            `gorm:"not null" json:"total_duration"`
	BackendID       string         `gorm:"size:64;not null" json:"backend_id"`
	Plan            datatypes.JSON `gorm:"type:jsonb" json:"plan,omitempty"` // caller-supplied planner output
	Stage           string         `gorm:"size:32;not null;index" json:"current_stage"`
	Status          string         `gorm:"size:16;not null;index" json:"status"` // queued|running|succeeded|failed|cancelled
	Progress        int            `gorm:"not null;default:0" json:"progress_percent"`
	CancelRequested bool           `gorm:"not null;default:false" json:"cancel_requested"`
	UsageCounted    bool           `gorm:"not null;default:false" json:"-"`
	ErrorKind       string         `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorStage      string         `gorm:"size:32" json:"error_stage,omitempty"`
	ErrorChunk      *int           `json:"error_chunk,omitempty"`
	Error           string         `gorm:"type:text" json:"error,omitempty"`
	OutputURL       string         `gorm:"type:text" json:"output_url,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// StageResult is the durable output of one completed stage.
type StageResult struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RunID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_stage_result_run_stage" json:"run_id"`
	Stage     string         `gorm:"size:32;not null;uniqueIndex:idx_stage_result_run_stage" json:"stage"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (StageResult) TableName() string {
	return "stage_results"
}

// CostEntry is one realized charge. Item is unique per run so a replayed
// job cannot charge twice.
type CostEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cost_entry_run_item" json:"run_id"`
	Stage     string    `gorm:"size:32;not null" json:"stage"`
	Item      string    `gorm:"size:64;not null;uniqueIndex:idx_cost_entry_run_item" json:"item"`
	Amount    float64   `gorm:"not null" json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

func (CostEntry) TableName() string {
	return "cost_entries"
}

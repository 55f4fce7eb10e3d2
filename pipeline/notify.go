package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// ProgressChannel is the pub/sub channel run snapshots are published on.
const ProgressChannel = "run_progress"

// Snapshot is the outward view of a run.
type Snapshot struct {
	RunID         string            `json:"run_id"`
	Stage         Stage             `json:"current_stage"`
	Status        Status            `json:"status"`
	Progress      int               `json:"progress_percent"`
	CostBreakdown map[Stage]float64 `json:"cost_breakdown"`
	TotalCost     float64           `json:"total_cost"`
	Error         *RunError         `json:"error,omitempty"`
	OutputURL     string            `json:"output_url,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (r Run) Snapshot() Snapshot {
	costs := r.Costs
	if costs == nil {
		costs = map[Stage]float64{}
	}
	return Snapshot{
		RunID:         r.ID,
		Stage:         r.Stage,
		Status:        r.Status,
		Progress:      r.Progress,
		CostBreakdown: costs,
		TotalCost:     r.TotalCost(),
		Error:         r.Error,
		OutputURL:     r.OutputURL,
		UpdatedAt:     r.UpdatedAt,
	}
}

// RedisNotifier publishes run snapshots over Redis pub/sub.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: ProgressChannel}
}

func (n *RedisNotifier) Publish(ctx context.Context, run Run) error {
	payload, err := json.Marshal(run.Snapshot())
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, payload).Err()
}

package tasks

import (
	"encoding/json"

	"github.com/Kenji11/aivideo-sub002/pipeline"
)

// ---
// QUEUE DEFINITIONS
// ---
// One Redis list per pipeline stage, so each stage can be scaled and
// inspected on its own.
const (
	QueueSpecBuild   = "q_stage_spec_build"
	QueueAssetSelect = "q_stage_asset_select"
	QueueChunkPlan   = "q_stage_chunk_plan"
	QueueGenerate    = "q_stage_generate"
	QueueStitch      = "q_stage_stitch"
	QueueScore       = "q_stage_score"

	// QueueDeadLetter collects payloads whose handler hit an infrastructure
	// error, tagged with the queue they came from.
	QueueDeadLetter = "q_dead_letter"
)

var stageQueues = map[pipeline.Stage]string{
	pipeline.StageSpecBuild:   QueueSpecBuild,
	pipeline.StageAssetSelect: QueueAssetSelect,
	pipeline.StageChunkPlan:   QueueChunkPlan,
	pipeline.StageGenerate:    QueueGenerate,
	pipeline.StageStitch:      QueueStitch,
	pipeline.StageScore:       QueueScore,
}

// QueueFor returns the queue that carries jobs for stage.
func QueueFor(stage pipeline.Stage) (string, bool) {
	q, ok := stageQueues[stage]
	return q, ok
}

// StageQueues lists every stage queue in pipeline order.
func StageQueues() []string {
	out := make([]string, 0, len(pipeline.Stages))
	for _, s := range pipeline.Stages {
		out = append(out, stageQueues[s])
	}
	return out
}

// ---
// TASK PAYLOADS
// ---

// StagePayload is the job for one stage of one run. The stage is implied
// by the queue but carried too, so a dead-lettered payload stands alone.
type StagePayload struct {
	RunID string         `json:"run_id"`
	Stage pipeline.Stage `json:"stage"`
}

// DeadLetter wraps a payload that could not be processed.
type DeadLetter struct {
	Queue   string `json:"queue"`
	Payload string `json:"payload"`
	Error   string `json:"error"`
}

// Marshal creates a JSON payload for a task.
func Marshal(payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

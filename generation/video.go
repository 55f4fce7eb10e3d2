package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/continuity"
	"github.com/Kenji11/aivideo-sub002/retry"
	"go.uber.org/zap"
)

// prediction is the create/poll resource exposed by the generation gateway.
type prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

func (p prediction) terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// maxPollFailures is how many consecutive transient poll errors are
// tolerated before the prediction is given up on.
const maxPollFailures = 5

// VideoClient calls image-to-video backends through one prediction gateway.
// Request parameter names come from the backend's capability entry.
type VideoClient struct {
	client
	PollInterval time.Duration
}

func NewVideoClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *VideoClient {
	return &VideoClient{client: newClient(baseURL, apiKey, timeout, logger), PollInterval: 5 * time.Second}
}

// Generate starts a prediction and waits for its clip URL. A duration is
// only sent to backends that claim to honor it.
func (c *VideoClient) Generate(ctx context.Context, backend catalog.Backend, req continuity.GenerateRequest) (string, error) {
	input := map[string]interface{}{
		backend.PromptParam: req.Prompt,
		backend.ImageParam:  req.SourceImage,
	}
	if backend.DurationIsSteerable && backend.DurationParam != "" {
		input[backend.DurationParam] = req.Duration
	}

	var p prediction
	if err := c.do(ctx, "POST", "/v1/models/"+backend.ID+"/predictions", map[string]interface{}{"input": input}, &p); err != nil {
		return "", err
	}
	c.logger.Info("prediction started",
		zap.String("run_id", req.RunID),
		zap.Int("chunk", req.ChunkIndex),
		zap.String("backend", backend.ID),
		zap.String("prediction_id", p.ID),
	)

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	pollFailures := 0
	for !p.terminal() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		var next prediction
		err := c.do(ctx, "GET", "/v1/predictions/"+p.ID, nil, &next)
		if err != nil {
			// The prediction keeps running upstream and may already be billed.
			pollFailures++
			if !retry.IsTransient(err) || pollFailures >= maxPollFailures {
				return "", err
			}
			c.logger.Warn("poll prediction", zap.String("prediction_id", p.ID), zap.Int("failures", pollFailures), zap.Error(err))
			continue
		}
		pollFailures = 0
		if next.ID == "" {
			next.ID = p.ID
		}
		p = next
	}

	if p.Status != "succeeded" {
		// Backends fail predictions for overload as often as for bad input.
		return "", retry.Transient("prediction "+p.ID, fmt.Errorf("status %s: %s", p.Status, p.Error))
	}
	if p.Output == "" {
		return "", errors.New("prediction succeeded without output")
	}
	return p.Output, nil
}

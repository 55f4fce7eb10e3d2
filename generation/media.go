package generation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// StoryboardClient renders still images for beats that have no reference.
type StoryboardClient struct {
	client
}

func NewStoryboardClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *StoryboardClient {
	return &StoryboardClient{client: newClient(baseURL, apiKey, timeout, logger)}
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Key    string `json:"key"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type urlResponse struct {
	URL string `json:"url"`
}

// Render returns the URL of an image rendered from prompt and stored at key.
func (c *StoryboardClient) Render(ctx context.Context, prompt string, key string) (string, error) {
	var resp urlResponse
	err := c.do(ctx, "POST", "/v1/images", imageRequest{Prompt: prompt, Key: key, Width: 1080, Height: 1920}, &resp)
	if err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", errors.New("image service returned no url")
	}
	c.logger.Debug("storyboard rendered", zap.String("key", key), zap.String("url", resp.URL))
	return resp.URL, nil
}

// MusicRequest sizes and flavors a background track.
type MusicRequest struct {
	Duration  int    `json:"duration"`
	Mood      string `json:"mood"`
	Aesthetic string `json:"aesthetic"`
	Energy    string `json:"energy,omitempty"`
	Key       string `json:"key"`
}

// MusicClient generates background tracks.
type MusicClient struct {
	client
}

func NewMusicClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *MusicClient {
	return &MusicClient{client: newClient(baseURL, apiKey, timeout, logger)}
}

// Compose returns the URL of a track at least req.Duration seconds long.
func (c *MusicClient) Compose(ctx context.Context, req MusicRequest) (string, error) {
	var resp urlResponse
	if err := c.do(ctx, "POST", "/v1/music", req, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", errors.New("music service returned no url")
	}
	return resp.URL, nil
}

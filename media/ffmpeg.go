package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Kenji11/aivideo-sub002/retry"
	"go.uber.org/zap"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg extracts frames, stitches clips and muxes audio. Outputs are written
// under WorkDir and addressed as PublicBaseURL + "/" + key.
type FFmpeg struct {
	Binary        string
	WorkDir       string
	PublicBaseURL string

	run    Runner
	logger *zap.Logger
}

func NewFFmpeg(binary, workDir, publicBaseURL string, logger *zap.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{
		Binary:        binary,
		WorkDir:       workDir,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		run:           execRunner,
		logger:        logger,
	}
}

// WithRunner swaps the process runner.
func (f *FFmpeg) WithRunner(r Runner) *FFmpeg {
	f.run = r
	return f
}

// LastFrame grabs the final frame of a clip. duration is the expected clip
// length and only bounds the seek when the container reports none.
func (f *FFmpeg) LastFrame(ctx context.Context, videoURL string, duration int, key string) (string, error) {
	out, err := f.prepare(key)
	if err != nil {
		return "", err
	}
	args := []string{"-y", "-sseof", "-0.1", "-i", f.input(videoURL), "-frames:v", "1", "-q:v", "2", out}
	if err := f.exec(ctx, "last frame", args); err != nil {
		if duration <= 0 {
			return "", err
		}
		f.logger.Warn("sseof seek failed, seeking from start", zap.String("video", videoURL), zap.Error(err))
		args = []string{"-y", "-ss", fmt.Sprintf("%.2f", float64(duration)-0.1), "-i", f.input(videoURL), "-frames:v", "1", "-q:v", "2", out}
		if err := f.exec(ctx, "last frame", args); err != nil {
			return "", err
		}
	}
	return f.url(key), nil
}

// Stitch concatenates clips in order into one video without re-encoding.
func (f *FFmpeg) Stitch(ctx context.Context, clipURLs []string, key string) (string, error) {
	if len(clipURLs) == 0 {
		return "", errors.New("stitch: no clips")
	}
	out, err := f.prepare(key)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(clipURLs))
	for _, u := range clipURLs {
		lines = append(lines, fmt.Sprintf("file '%s'", f.input(u)))
	}
	listFile := strings.TrimSuffix(out, filepath.Ext(out)) + "_concat.txt"
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", err
	}

	args := []string{"-y",
		"-f", "concat",
		"-safe", "0",
		"-protocol_whitelist", "file,http,https,tcp,tls",
		"-i", listFile,
		"-c", "copy",
		out,
	}
	if err := f.exec(ctx, "stitch", args); err != nil {
		return "", err
	}
	f.logger.Info("clips stitched", zap.Int("clips", len(clipURLs)), zap.String("key", key))
	return f.url(key), nil
}

// Mux lays an audio track under a video. Audio is padded with silence and
// cut at the video's end, so the video is never trimmed.
func (f *FFmpeg) Mux(ctx context.Context, videoURL, audioURL, key string) (string, error) {
	out, err := f.prepare(key)
	if err != nil {
		return "", err
	}
	args := []string{"-y",
		"-i", f.input(videoURL),
		"-i", f.input(audioURL),
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-af", "apad",
		"-shortest",
		out,
	}
	if err := f.exec(ctx, "mux", args); err != nil {
		return "", err
	}
	return f.url(key), nil
}

func (f *FFmpeg) exec(ctx context.Context, op string, args []string) error {
	output, err := f.run(ctx, f.Binary, args...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.logger.Warn("ffmpeg failed", zap.String("op", op), zap.ByteString("output", tail(output, 2048)), zap.Error(err))
	// Remote inputs make most ffmpeg failures network failures.
	return retry.Transient("ffmpeg "+op, err)
}

func (f *FFmpeg) prepare(key string) (string, error) {
	out := filepath.Join(f.WorkDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return out, nil
}

// input maps URLs served from WorkDir back to local paths.
func (f *FFmpeg) input(u string) string {
	if f.PublicBaseURL != "" && strings.HasPrefix(u, f.PublicBaseURL+"/") {
		return filepath.Join(f.WorkDir, filepath.FromSlash(strings.TrimPrefix(u, f.PublicBaseURL+"/")))
	}
	return u
}

func (f *FFmpeg) url(key string) string {
	return f.PublicBaseURL + "/" + key
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

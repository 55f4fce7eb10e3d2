package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Kenji11/aivideo-sub002/retry"
)

type call struct {
	name string
	args []string
}

func recorder(calls *[]call, fail int) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		if fail > 0 {
			fail--
			return []byte("Invalid data found when processing input"), errors.New("exit status 1")
		}
		return nil, nil
	}
}

func TestStitchWritesConcatListInOrder(t *testing.T) {
	dir := t.TempDir()
	var calls []call
	f := NewFFmpeg("", dir, "https://media.local/", nil).WithRunner(recorder(&calls, 0))

	url, err := f.Stitch(context.Background(), []string{
		"https://media.local/run1/a.mp4",
		"https://cdn.example/b.mp4",
	}, "run1/stitched.mp4")
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if url != "https://media.local/run1/stitched.mp4" {
		t.Fatalf("url = %q", url)
	}

	list, err := os.ReadFile(filepath.Join(dir, "run1", "stitched_concat.txt"))
	if err != nil {
		t.Fatalf("read concat list: %v", err)
	}
	want := "file '" + filepath.Join(dir, "run1", "a.mp4") + "'\nfile 'https://cdn.example/b.mp4'"
	if string(list) != want {
		t.Fatalf("concat list = %q, want %q", list, want)
	}
	if len(calls) != 1 || calls[0].name != "ffmpeg" || !strings.Contains(strings.Join(calls[0].args, " "), "-f concat -safe 0") {
		t.Fatalf("unexpected invocation %+v", calls)
	}
}

func TestStitchRejectsEmptyInput(t *testing.T) {
	f := NewFFmpeg("", t.TempDir(), "", nil).WithRunner(recorder(new([]call), 0))
	if _, err := f.Stitch(context.Background(), nil, "x.mp4"); err == nil {
		t.Fatalf("expected error for empty clip list")
	}
}

func TestLastFrameFallsBackToDurationSeek(t *testing.T) {
	var calls []call
	f := NewFFmpeg("ffmpeg", t.TempDir(), "https://media.local", nil).WithRunner(recorder(&calls, 1))

	url, err := f.LastFrame(context.Background(), "https://cdn/clip.mp4", 5, "run/chunk-000-last.jpg")
	if err != nil {
		t.Fatalf("last frame: %v", err)
	}
	if url != "https://media.local/run/chunk-000-last.jpg" {
		t.Fatalf("url = %q", url)
	}
	if len(calls) != 2 || calls[0].args[1] != "-sseof" || calls[1].args[1] != "-ss" || calls[1].args[2] != "4.90" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestFailuresAreTransient(t *testing.T) {
	f := NewFFmpeg("", t.TempDir(), "", nil).WithRunner(recorder(new([]call), 5))
	_, err := f.Mux(context.Background(), "v.mp4", "a.mp3", "run/final.mp4")
	if !retry.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestMuxArgs(t *testing.T) {
	var calls []call
	f := NewFFmpeg("", t.TempDir(), "", nil).WithRunner(recorder(&calls, 0))
	if _, err := f.Mux(context.Background(), "v.mp4", "a.mp3", "run/final.mp4"); err != nil {
		t.Fatalf("mux: %v", err)
	}
	joined := strings.Join(calls[0].args, " ")
	for _, want := range []string{"-i v.mp4 -i a.mp3", "-map 0:v:0 -map 1:a:0", "-af apad -shortest"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("mux args %q missing %q", joined, want)
		}
	}
}

package microphone

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFFmpegSource_AcquireReadAndRelease(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	src := NewFFmpegSource(script, Options{})

	stream, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := stream.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}
	if got := stream.Format(); got.SampleRate != 16000 || got.Channels != 1 {
		t.Errorf("unexpected format %+v", got)
	}

	if err := stream.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	// Idempotent.
	if err := stream.Release(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
}

func TestFFmpegSource_EarlyExitIsDeviceUnavailable(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	src := NewFFmpegSource(script, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := src.Acquire(ctx)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestFFmpegSource_MissingBinaryIsDeviceUnavailable(t *testing.T) {
	t.Parallel()

	src := NewFFmpegSource(filepath.Join(t.TempDir(), "missing-ffmpeg"), Options{})
	_, err := src.Acquire(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestFFmpegSource_Args(t *testing.T) {
	t.Parallel()

	src := NewFFmpegSource("", Options{InputFormat: "alsa", InputDevice: "hw:1", SampleRate: 8000})
	args := strings.Join(src.args(), " ")

	for _, want := range []string{"-f alsa", "-i hw:1", "-af " + DefaultFilters, "-ar 8000", "-ac 1", "-f s16le"} {
		if !strings.Contains(args, want) {
			t.Errorf("expected args to contain %q, got %q", want, args)
		}
	}

	args = strings.Join(src.WithFilters("").args(), " ")
	if strings.Contains(args, "-af") {
		t.Errorf("expected no filter graph, got %q", args)
	}
}

func TestNormalizeStopErr_ExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

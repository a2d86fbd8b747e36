package microphone

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, samples []int, rate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("failed to write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to close wav: %v", err)
	}
	return path
}

func TestWAVFileSource_DownmixesStereo(t *testing.T) {
	t.Parallel()

	// Two stereo frames: (100, 300) and (-200, -400).
	path := writeWAV(t, []int{100, 300, -200, -400}, 8000, 2)

	stream, err := NewWAVFileSource(path, false).Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer stream.Release()

	if got := stream.Format(); got.SampleRate != 8000 || got.Channels != 1 {
		t.Errorf("unexpected format %+v", got)
	}

	data, err := io.ReadAll(readerFunc(stream.Read))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("expected 2 mono samples (4 bytes), got %d bytes", len(data))
	}
	first := int16(binary.LittleEndian.Uint16(data[0:]))
	second := int16(binary.LittleEndian.Uint16(data[2:]))
	if first != 200 || second != -300 {
		t.Errorf("expected downmixed samples 200,-300, got %d,%d", first, second)
	}
}

func TestWAVFileSource_ReadsInFrames(t *testing.T) {
	t.Parallel()

	// 1 s of audio at 8 kHz; 100 ms frames are 1600 bytes.
	path := writeWAV(t, make([]int, 8000), 8000, 1)
	stream, err := NewWAVFileSource(path, false).Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer stream.Release()

	buf := make([]byte, 64*1024)
	n, err := stream.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if n != 1600 {
		t.Errorf("expected a 1600 byte frame, got %d", n)
	}
}

func TestWAVFileSource_ReleaseEndsStream(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, make([]int, 800), 8000, 1)
	stream, err := NewWAVFileSource(path, true).Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if err := stream.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := stream.Read(make([]byte, 16)); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after release, got %v", err)
	}
}

func TestWAVFileSource_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewWAVFileSource(filepath.Join(t.TempDir(), "missing.wav"), false).Acquire(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

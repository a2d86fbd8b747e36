package microphone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classroom-voice-capture/internal/observability/logging"
)

// DefaultFilters asks ffmpeg for noise suppression and automatic gain on the
// input: a high-pass to cut rumble, FFT denoise, then dynamic normalization.
const DefaultFilters = "highpass=f=100,afftdn,dynaudnorm"

const (
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// FFmpegSource captures the microphone by running ffmpeg and reading raw PCM
// from its stdout.
type FFmpegSource struct {
	command string
	opts    Options
	filters string
	logger  zerolog.Logger
}

// NewFFmpegSource creates a source that runs command (default "ffmpeg").
func NewFFmpegSource(command string, opts Options) *FFmpegSource {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegSource{
		command: command,
		opts:    opts.withDefaults(),
		filters: DefaultFilters,
		logger:  logging.WithComponent("microphone"),
	}
}

// WithFilters overrides the ffmpeg audio filter graph. An empty graph
// disables filtering.
func (s *FFmpegSource) WithFilters(filters string) *FFmpegSource {
	s.filters = filters
	return s
}

func (s *FFmpegSource) args() []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.opts.InputFormat,
		"-i", s.opts.InputDevice,
	}
	if s.filters != "" {
		args = append(args, "-af", s.filters)
	}
	return append(args,
		"-ac", strconv.Itoa(s.opts.Channels),
		"-ar", strconv.Itoa(s.opts.SampleRate),
		"-f", "s16le",
		"-",
	)
}

// Acquire starts ffmpeg. A process that exits during the startup grace
// period means the device could not be opened.
func (s *FFmpegSource) Acquire(ctx context.Context) (Stream, error) {
	cmd := exec.CommandContext(ctx, s.command, s.args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrDeviceUnavailable, s.command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s",
				ErrDeviceUnavailable, err, trimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", ErrDeviceUnavailable)
	case <-time.After(startupGrace):
	}

	s.logger.Info().
		Str("input_format", s.opts.InputFormat).
		Str("input_device", s.opts.InputDevice).
		Int("sample_rate", s.opts.SampleRate).
		Str("filters", s.filters).
		Msg("Microphone capture started")

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		format:  Format{SampleRate: s.opts.SampleRate, Channels: s.opts.Channels},
	}, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error
	format  Format

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Format() Format {
	return s.format
}

// Release interrupts ffmpeg and kills it if it does not exit in time.
func (s *ffmpegStream) Release() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

// normalizeStopErr treats a non-zero exit after an interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimSpace(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// Package google provides a Google Cloud Speech-to-Text transcriber.
package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/service/stt"
)

const providerName = "google"

// Config holds Google STT configuration.
type Config struct {
	LanguageCode    string // fallback when a request carries none
	SampleRateHz    int
	AudioEncoding   string // LINEAR16, MULAW, FLAC, ...
	CredentialsFile string // empty uses GOOGLE_APPLICATION_CREDENTIALS
	Timeout         time.Duration
}

// DefaultConfig returns the default configuration for 16 kHz capture.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
		Timeout:       30 * time.Second,
	}
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Adapter implements stt.Transcriber with synchronous Recognize calls.
type Adapter struct {
	config    Config
	client    *speech.Client
	recognize recognizeFunc
	logger    zerolog.Logger
}

// New dials Google Speech-to-Text.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	a := newAdapter(cfg, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, req)
	})
	a.client = c
	return a, nil
}

func newAdapter(cfg Config, fn recognizeFunc) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Adapter{
		config:    cfg,
		recognize: fn,
		logger:    logging.WithComponent("stt-google"),
	}
}

func (a *Adapter) Name() string {
	return providerName
}

// Transcribe sends the PCM as LINEAR16 content and joins the top
// alternative of every result.
func (a *Adapter) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.PCM) == 0 {
		return "", stt.ErrEmptyAudio
	}

	language := req.Language
	if language == "" {
		language = a.config.LanguageCode
	}
	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = a.config.SampleRateHz
	}
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	resp, err := a.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.config.AudioEncoding),
			SampleRateHertz:            int32(sampleRate),
			AudioChannelCount:          int32(channels),
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.PCM},
		},
	})
	if err != nil {
		st, _ := status.FromError(err)
		return "", stt.NewTranscriptionError(providerName, st.Code().String(), st.Message(),
			fmt.Errorf("%w: %v", stt.ErrDispatchFailure, err), retryable(st.Code()))
	}
	if resp == nil {
		return "", stt.NewTranscriptionError(providerName, "empty", "nil response", stt.ErrMalformedResponse, false)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}

	a.logger.Debug().
		Str("dispatchId", req.ID).
		Int("results", len(resp.GetResults())).
		Msg("Recognize completed")

	return strings.Join(parts, " "), nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func retryable(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

// parseAudioEncoding converts a string encoding name to the protobuf enum.
// Unknown names fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

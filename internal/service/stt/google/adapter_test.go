package google

import (
	"context"
	"errors"
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"classroom-voice-capture/internal/service/stt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16},
		{"", speechpb.RecognitionConfig_LINEAR16},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAdapter_TranscribeJoinsResults(t *testing.T) {
	var captured *speechpb.RecognizeRequest
	a := newAdapter(DefaultConfig(), func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		captured = req
		return &speechpb.RecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "open your books"}}},
				{Alternatives: nil},
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " to page ten "}}},
			},
		}, nil
	})

	text, err := a.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 1600), SampleRate: 8000, Language: "fr-FR"})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "open your books to page ten" {
		t.Errorf("unexpected text %q", text)
	}
	if captured.GetConfig().GetLanguageCode() != "fr-FR" {
		t.Errorf("expected request language, got %s", captured.GetConfig().GetLanguageCode())
	}
	if captured.GetConfig().GetSampleRateHertz() != 8000 {
		t.Errorf("expected 8000 Hz, got %d", captured.GetConfig().GetSampleRateHertz())
	}
	if len(captured.GetAudio().GetContent()) != 1600 {
		t.Errorf("expected raw PCM content, got %d bytes", len(captured.GetAudio().GetContent()))
	}
}

func TestAdapter_FallsBackToConfiguredLanguage(t *testing.T) {
	var lang string
	a := newAdapter(DefaultConfig(), func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		lang = req.GetConfig().GetLanguageCode()
		return &speechpb.RecognizeResponse{}, nil
	})

	if _, err := a.Transcribe(context.Background(), stt.Request{PCM: []byte{0, 0}}); err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if lang != "en-US" {
		t.Errorf("expected fallback language en-US, got %s", lang)
	}
}

func TestAdapter_GRPCErrors(t *testing.T) {
	tests := []struct {
		code      codes.Code
		retryable bool
	}{
		{codes.Unavailable, true},
		{codes.DeadlineExceeded, true},
		{codes.InvalidArgument, false},
		{codes.PermissionDenied, false},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			a := newAdapter(DefaultConfig(), func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
				return nil, status.Error(tt.code, "nope")
			})

			_, err := a.Transcribe(context.Background(), stt.Request{PCM: []byte{0, 0}})
			if !errors.Is(err, stt.ErrDispatchFailure) {
				t.Fatalf("expected ErrDispatchFailure, got %v", err)
			}
			var te *stt.TranscriptionError
			if !errors.As(err, &te) {
				t.Fatalf("expected TranscriptionError, got %T", err)
			}
			if te.Code != tt.code.String() || te.Retryable != tt.retryable {
				t.Errorf("unexpected error fields: code=%s retryable=%v", te.Code, te.Retryable)
			}
		})
	}
}

func TestAdapter_EmptyAudio(t *testing.T) {
	a := newAdapter(DefaultConfig(), nil)
	if _, err := a.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
}

// Package httpapi uploads audio to a transcription endpoint as a multipart
// WAV file and reads back the translated text.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rs/zerolog"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/service/stt"
)

const providerName = "http"

// Config configures the client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client implements stt.Transcriber over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
}

type response struct {
	TranslatedText *string `json:"translated_text"`
}

// New creates a client. The endpoint is required.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logging.WithComponent("stt-http"),
	}, nil
}

func (c *Client) Name() string {
	return providerName
}

// Transcribe posts {file: audio.wav, output_language} and returns
// translated_text.
func (c *Client) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	wavData, err := stt.EncodeWAV(req.PCM, req.SampleRate, req.Channels)
	if err != nil {
		return "", err
	}

	body, contentType, err := buildForm(wavData, req.Language)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", stt.NewTranscriptionError(providerName, "", err.Error(),
			fmt.Errorf("%w: %v", stt.ErrDispatchFailure, err), true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", stt.NewTranscriptionError(providerName, "", "failed to read response body",
			fmt.Errorf("%w: %v", stt.ErrDispatchFailure, err), true)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return "", stt.NewTranscriptionError(providerName, fmt.Sprintf("%d", resp.StatusCode),
			fmt.Sprintf("unexpected status: %s", truncate(string(raw), 200)), stt.ErrDispatchFailure, retryable)
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", stt.NewTranscriptionError(providerName, "decode", err.Error(), stt.ErrMalformedResponse, false)
	}
	if decoded.TranslatedText == nil {
		return "", stt.NewTranscriptionError(providerName, "decode", "missing translated_text", stt.ErrMalformedResponse, false)
	}

	c.logger.Debug().
		Str("dispatchId", req.ID).
		Int("bytes", len(wavData)).
		Dur("latency", time.Since(start)).
		Msg("Transcription received")

	return *decoded.TranslatedText, nil
}

func buildForm(wavData []byte, language string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("output_language", language); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package fakestt is a local stand-in for the remote transcription
// endpoint. It accepts the same multipart upload and answers with canned
// classroom utterances.
package fakestt

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/service/stt/mock"
)

const maxUploadBytes = 32 << 20

// Options tune the fake.
type Options struct {
	Utterances []string
	Latency    time.Duration
	// FailEvery makes every Nth request answer 503. 0 disables.
	FailEvery int
	// MalformedEvery makes every Nth request answer an undecodable body.
	MalformedEvery int
	// APIKey, when set, is required as a bearer token.
	APIKey string
}

// Server answers transcription uploads.
type Server struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	requests int
	next     int
}

// New creates a fake server.
func New(opts Options) *Server {
	if len(opts.Utterances) == 0 {
		opts.Utterances = mock.DefaultUtterances
	}
	return &Server{opts: opts, logger: logging.WithComponent("fakestt")}
}

// Handler returns the router serving POST /transcribe.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/transcribe", s.transcribe)
	return r
}

// Requests returns the number of uploads seen.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	if s.opts.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.APIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		http.Error(w, "file is not a WAV", http.StatusBadRequest)
		return
	}
	duration, err := dec.Duration()
	if err != nil {
		http.Error(w, "unreadable WAV", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests++
	n := s.requests
	text := s.opts.Utterances[s.next%len(s.opts.Utterances)]
	fail := s.opts.FailEvery > 0 && n%s.opts.FailEvery == 0
	malformed := !fail && s.opts.MalformedEvery > 0 && n%s.opts.MalformedEvery == 0
	if !fail && !malformed {
		s.next++
	}
	s.mu.Unlock()

	if s.opts.Latency > 0 {
		select {
		case <-time.After(s.opts.Latency):
		case <-r.Context().Done():
			return
		}
	}

	logger := s.logger.With().
		Int("request", n).
		Dur("audio", duration).
		Str("language", r.FormValue("output_language")).
		Logger()

	switch {
	case fail:
		logger.Info().Msg("Injected failure")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	case malformed:
		logger.Info().Msg("Injected malformed response")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"translated_text":`))
	default:
		logger.Info().Str("text", text).Msg("Transcribed")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"translated_text": text})
	}
}

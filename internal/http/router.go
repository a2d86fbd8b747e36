// Package http exposes the capture pipeline to its host over HTTP and
// websockets.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"classroom-voice-capture/internal/app"
	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/service/history"
	"classroom-voice-capture/internal/service/microphone"
	"classroom-voice-capture/internal/service/pipeline"
)

type startRequest struct {
	Language string `json:"language"`
}

type stopResponse struct {
	Committed bool          `json:"committed"`
	Entry     history.Entry `json:"entry"`
	Error     string        `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, hub *Hub) http.Handler {
	r := chi.NewRouter()
	logger := logging.WithComponent("http")

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if err := application.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	p := application.Pipeline

	r.Route("/v1/session", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
			var req startRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
				return
			}

			session, err := p.Start(r.Context(), req.Language)
			switch {
			case err == nil:
				writeJSON(w, http.StatusCreated, session)
			case errors.Is(err, pipeline.ErrSessionActive):
				writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			case errors.Is(err, microphone.ErrDeviceUnavailable):
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			default:
				logger.Error().Err(err).Msg("Failed to start session")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			}
		})

		r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
			entry, err := p.Stop(r.Context())
			switch {
			case errors.Is(err, pipeline.ErrNoActiveSession):
				writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			case err != nil:
				// The session ended on a device error; whatever was
				// transcribed is still committed.
				writeJSON(w, http.StatusOK, stopResponse{Committed: entry.Text != "", Entry: entry, Error: err.Error()})
			default:
				writeJSON(w, http.StatusOK, stopResponse{Committed: entry.Text != "", Entry: entry})
			}
		})

		r.Post("/reset", func(w http.ResponseWriter, _ *http.Request) {
			p.Reset()
			writeJSON(w, http.StatusOK, p.Status())
		})

		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, p.Status())
		})
	})

	r.Get("/v1/history", func(w http.ResponseWriter, _ *http.Request) {
		entries := application.History.Entries()
		if entries == nil {
			entries = []history.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})
	r.Delete("/v1/history", func(w http.ResponseWriter, _ *http.Request) {
		application.History.Clear()
		application.Metrics.RecordHistorySize(0)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/v1/updates", func(w http.ResponseWriter, r *http.Request) {
		hub.serve(w, r, p.Status())
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

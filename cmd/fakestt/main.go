// Command fakestt serves a local transcription endpoint for demos and
// end-to-end runs without a real speech service.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"classroom-voice-capture/internal/fakestt"
	"classroom-voice-capture/internal/observability/logging"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	latency := flag.Duration("latency", 500*time.Millisecond, "simulated processing time per request")
	failEvery := flag.Int("fail-every", 0, "answer 503 to every Nth request")
	malformedEvery := flag.Int("malformed-every", 0, "answer an undecodable body to every Nth request")
	apiKey := flag.String("api-key", "", "required bearer token")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	s := fakestt.New(fakestt.Options{
		Latency:        *latency,
		FailEvery:      *failEvery,
		MalformedEvery: *malformedEvery,
		APIKey:         *apiKey,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", *addr).Msg("Fake transcription endpoint listening on /transcribe")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

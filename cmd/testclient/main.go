// Command testclient drives one capture session against a running service:
// it checks gRPC health, starts a session, prints live updates and stops
// the session after the given duration.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type update struct {
	Status     string  `json:"status"`
	Reason     string  `json:"reason"`
	Transcript string  `json:"transcript"`
	Loudness   float64 `json:"loudness"`
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "control API base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "gRPC health address")
	language := flag.String("language", "en", "target language code")
	duration := flag.Duration("duration", 10*time.Second, "how long to capture")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := checkHealth(*grpcAddr); err != nil {
		log.Fatal().Err(err).Msg("Service is not healthy")
	}
	log.Info().Str("addr", *grpcAddr).Msg("Service is serving")

	wsURL := "ws" + strings.TrimPrefix(*apiAddr, "http") + "/v1/updates"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open update stream")
	}
	defer conn.Close()
	go printUpdates(conn)

	body, _ := json.Marshal(map[string]string{"language": *language})
	if err := post(*apiAddr+"/v1/session/start", body, http.StatusCreated, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}
	log.Info().Dur("duration", *duration).Msg("Session started, speak now")

	time.Sleep(*duration)

	var stopped struct {
		Committed bool `json:"committed"`
		Entry     struct {
			Text     string `json:"text"`
			Language string `json:"language"`
		} `json:"entry"`
		Error string `json:"error"`
	}
	if err := post(*apiAddr+"/v1/session/stop", nil, http.StatusOK, &stopped); err != nil {
		log.Fatal().Err(err).Msg("Failed to stop session")
	}

	log.Info().
		Bool("committed", stopped.Committed).
		Str("language", stopped.Entry.Language).
		Str("error", stopped.Error).
		Msg("Session stopped")
	fmt.Println(stopped.Entry.Text)
}

func checkHealth(addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("service status %s", resp.GetStatus())
	}
	return nil
}

func post(url string, body []byte, want int, out any) error {
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printUpdates(conn *websocket.Conn) {
	var last update
	for {
		var u update
		if err := conn.ReadJSON(&u); err != nil {
			return
		}
		if u.Transcript != last.Transcript || u.Status != last.Status || u.Reason != last.Reason {
			log.Info().
				Str("status", u.Status).
				Str("reason", u.Reason).
				Str("transcript", u.Transcript).
				Msg("Update")
		}
		last = u
	}
}

// Command transcript-viewer tails the transcript topics and prints live
// updates and committed transcripts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"classroom-voice-capture/internal/models"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicUpdates := flag.String("topic-updates", models.EventTypeUpdate, "transcript update topic")
	topicCommitted := flag.String("topic-committed", models.EventTypeCommitted, "committed transcript topic")
	since := flag.Duration("since", time.Hour, "replay messages newer than this")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerList := strings.Split(*brokers, ",")
	log.Info().Strs("brokers", brokerList).Str("updates", *topicUpdates).Str("committed", *topicCommitted).
		Msg("Transcript viewer starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(gctx, brokerList, *topicUpdates, *since, printUpdate())
	})
	g.Go(func() error {
		return consume(gctx, brokerList, *topicCommitted, *since, printCommitted)
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Viewer failed")
	}
}

// consume reads partition 0 of topic without a consumer group, which works
// through a port-forward.
func consume(ctx context.Context, brokers []string, topic string, since time.Duration, handle func([]byte)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the current offset")
	}

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		handle(msg.Value)
	}
}

// printUpdate only prints updates whose transcript or status changed.
func printUpdate() func([]byte) {
	last := map[string]models.TranscriptUpdate{}
	return func(payload []byte) {
		var ev models.TranscriptUpdate
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warn().Err(err).Msg("Undecodable update")
			return
		}
		prev, ok := last[ev.SessionID]
		last[ev.SessionID] = ev
		if ok && prev.Transcript == ev.Transcript && prev.Status == ev.Status {
			return
		}
		log.Info().
			Str("session", ev.SessionID).
			Str("status", ev.Status).
			Str("reason", ev.Reason).
			Str("transcript", ev.Transcript).
			Msg("Update")
	}
}

func printCommitted(payload []byte) {
	var ev models.TranscriptCommitted
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Err(err).Msg("Undecodable committed event")
		return
	}
	log.Info().
		Str("session", ev.SessionID).
		Str("language", ev.Language).
		Time("at", time.UnixMilli(ev.Timestamp)).
		Str("text", ev.Text).
		Msg("Committed")
}

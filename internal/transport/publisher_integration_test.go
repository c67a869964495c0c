//go:build integration

package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_StreamChunkRoundTrip(t *testing.T) {
	url := skipWithoutNATS(t)

	pub, err := NewPublisher(url, os.Getenv("NATS_TOKEN"), discardLogger())
	if err != nil {
		t.Fatalf("failed to connect publisher: %v", err)
	}
	defer pub.Close()

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("failed to connect subscriber: %v", err)
	}
	defer sub.Close()

	convID := uuid.New()
	received := make(chan *nats.Msg, 1)
	subscription, err := sub.ChanSubscribe(streamSubject(convID), received)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer subscription.Unsubscribe()
	sub.Flush()

	chunk := StreamChunk{MessageID: uuid.NewString(), Delta: "partial text", Final: false}
	if err := pub.Chunk(convID, chunk); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		var env struct {
			Event string      `json:"event"`
			Data  StreamChunk `json:"data"`
		}
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Fatalf("failed to decode published envelope: %v", err)
		}
		if env.Event != "stream_chunk" {
			t.Errorf("expected event 'stream_chunk', got '%s'", env.Event)
		}
		if env.Data.MessageID != chunk.MessageID || env.Data.Delta != chunk.Delta {
			t.Errorf("chunk mismatch: %+v", env.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published chunk")
	}
}

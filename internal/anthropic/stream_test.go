package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
}

func TestStream_DeliversDeltasInOrder(t *testing.T) {
	server := sseServer(t, []string{
		`{"type":"message_start","message":{"usage":{"input_tokens":40}}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo "}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"there"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	})
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetTestTransport(server.URL)

	events, errCh := c.Stream(context.Background(), "sys", []Message{{Role: "user", Content: "hi"}}, 100)

	var text string
	var terminal *StreamEvent
	for ev := range events {
		if ev.Done {
			terminal = &ev
			continue
		}
		text += ev.Delta
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if text != "Hello there" {
		t.Errorf("expected 'Hello there', got %q", text)
	}
	if terminal == nil {
		t.Fatal("expected a terminal event")
	}
	if terminal.StopReason != "end_turn" {
		t.Errorf("expected end_turn, got %q", terminal.StopReason)
	}
	if terminal.Usage.InputTokens != 40 || terminal.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", terminal.Usage)
	}
}

func TestStream_APIErrorBeforeStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetTestTransport(server.URL)

	events, errCh := c.Stream(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 100)
	for range events {
	}
	err := <-errCh
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Kind != "rate_limit_error" {
		t.Errorf("unexpected kind %q", apiErr.Kind)
	}
}

func TestStream_MidStreamErrorEvent(t *testing.T) {
	server := sseServer(t, []string{
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"part"}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
	})
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetTestTransport(server.URL)

	events, errCh := c.Stream(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 100)
	sawTerminal := false
	for ev := range events {
		if ev.Done {
			sawTerminal = true
		}
	}
	err := <-errCh
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if sawTerminal {
		t.Error("failed stream must not emit a terminal event")
	}
}

func TestStream_CancellationSurfacesContextError(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"x\"}}\n\n")
		flusher.Flush()
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient("test-key", "test-model")
	c.SetTestTransport(server.URL)

	events, errCh := c.Stream(ctx, "", []Message{{Role: "user", Content: "hi"}}, 100)

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first delta")
	}
	cancel()

	for range events {
	}
	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

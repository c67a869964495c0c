package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StreamEvent is one increment of a streaming completion. Delta carries new
// text; the terminal event has Done set with the stop reason and usage.
type StreamEvent struct {
	Delta      string
	Done       bool
	StopReason string
	Usage      Usage
}

// SSE event payloads for the Messages streaming API. Only the fields the
// engine consumes are decoded.
type streamMessage struct {
	Type    string `json:"type"`
	Message struct {
		Usage Usage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream opens a streaming completion. Events arrive on the first channel
// in generation order; at most one error arrives on the second. Exactly one
// of "terminal event" or "error" ends the stream. Cancelling ctx aborts the
// read promptly and surfaces ctx.Err().
func (c *Client) Stream(ctx context.Context, system string, messages []Message, maxTokens int) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 16)
	errCh := make(chan error, 1)

	reqBody := request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
		Stream:    true,
	}

	go func() {
		defer close(events)
		defer close(errCh)

		resp, err := c.post(ctx, reqBody)
		if err != nil {
			errCh <- ctxPreferred(ctx, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			errCh <- decodeError(resp.StatusCode, body)
			return
		}

		if err := c.readEvents(ctx, resp.Body, events); err != nil {
			errCh <- ctxPreferred(ctx, err)
		}
	}()

	return events, errCh
}

// readEvents parses the SSE body line by line, forwarding text deltas and
// emitting one terminal event on message_stop.
func (c *Client) readEvents(ctx context.Context, body io.Reader, events chan<- StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var stopReason string
	var usage Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var ev streamMessage
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}

		switch ev.Type {
		case "message_start":
			usage.InputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				select {
				case events <- StreamEvent{Delta: ev.Delta.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case "message_delta":
			stopReason = ev.Delta.StopReason
			if ev.Usage.OutputTokens > 0 {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			select {
			case events <- StreamEvent{Done: true, StopReason: stopReason, Usage: usage}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		case "error":
			return &APIError{Status: http.StatusOK, Kind: ev.Error.Type, Message: ev.Error.Message}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without message_stop")
}

// ctxPreferred surfaces the context's own error when the transport failure
// was caused by cancellation or timeout.
func ctxPreferred(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

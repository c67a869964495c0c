package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{conn: nc, logger: logger}, nil
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (p *Publisher) publish(subject, event string, data any) error {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return p.conn.Publish(subject, payload)
}

func streamSubject(convID uuid.UUID) string {
	return fmt.Sprintf("sherpa.conversation.%s.stream", convID)
}

func extractionSubject(convID uuid.UUID) string {
	return fmt.Sprintf("sherpa.conversation.%s.extraction", convID)
}

func (p *Publisher) Chunk(convID uuid.UUID, chunk StreamChunk) error {
	return p.publish(streamSubject(convID), "stream_chunk", chunk)
}

func (p *Publisher) StreamError(convID uuid.UUID, ev StreamError) error {
	return p.publish(streamSubject(convID), "stream_error", ev)
}

func (p *Publisher) Complete(convID uuid.UUID, ev StreamComplete) error {
	return p.publish(streamSubject(convID), "stream_complete", ev)
}

func (p *Publisher) Extraction(convID uuid.UUID, ev ExtractionReady) error {
	return p.publish(extractionSubject(convID), "extraction_ready", ev)
}

func (p *Publisher) Signal(sig ExtractionSignal) error {
	return p.publish(SubjectExtractionSignal, "extraction_signal", sig)
}

// ExtractionConfirmed publishes the confirmed payload to the step owner.
// The context is accepted for interface compatibility; NATS publish is
// fire-and-forget.
func (p *Publisher) ExtractionConfirmed(_ context.Context, stepID uuid.UUID, stepType step.Type, payload json.RawMessage) error {
	return p.publish(SubjectStepConfirmed, "step_confirmed", StepConfirmed{
		StepID:   stepID.String(),
		StepType: string(stepType),
		Payload:  payload,
	})
}

func (p *Publisher) Close() {
	p.conn.Close()
}

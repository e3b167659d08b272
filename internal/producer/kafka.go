package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quiby-ai/common/pkg/events"
	"github.com/quiby-ai/review-search/config"
)

// eventPublisher is the subset of the Kafka producer used here.
type eventPublisher interface {
	PublishEvent(ctx context.Context, key []byte, envelope events.Envelope[any]) error
	Close() error
}

// Producer announces finished ingest runs on the pipeline topic.
type Producer struct {
	producer eventPublisher
	logger   *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	return &Producer{
		producer: events.NewKafkaProducer(cfg.Brokers),
		logger:   logger.With("component", "producer"),
	}
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishCompleted publishes the completion of req keyed by sagaID.
func (p *Producer) PublishCompleted(ctx context.Context, req events.VectorizeRequest, sagaID string) error {
	envelope := buildEnvelope(events.VectorizeCompleted{VectorizeRequest: req}, sagaID)

	if err := p.producer.PublishEvent(ctx, []byte(sagaID), envelope); err != nil {
		return fmt.Errorf("failed to publish completed event: %w", err)
	}

	p.logger.Info("Published completed event", "saga_id", sagaID)
	return nil
}

func buildEnvelope(event events.VectorizeCompleted, sagaID string) events.Envelope[any] {
	envelope := events.BuildEnvelope(event, events.PipelineVectorizeCompleted, sagaID)
	envelope.Meta.AppID = event.AppID

	return envelope
}

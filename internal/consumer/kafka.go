package consumer

import (
	"context"
	"fmt"

	"github.com/quiby-ai/common/pkg/events"
	"github.com/quiby-ai/review-search/config"
)

// Handler runs the work a pipeline request asks for.
type Handler interface {
	Handle(ctx context.Context, payload any, sagaID string) error
}

type ingestProcessor struct {
	handler Handler
}

func (p *ingestProcessor) Handle(ctx context.Context, payload any, sagaID string) error {
	if evt, ok := payload.(events.VectorizeRequest); ok {
		return p.handler.Handle(ctx, evt, sagaID)
	}
	return fmt.Errorf("invalid payload type %T for ingest", payload)
}

type KafkaConsumer struct {
	consumer *events.KafkaConsumer
}

// NewKafkaConsumer subscribes handler to pipeline ingest requests.
func NewKafkaConsumer(cfg config.KafkaConfig, handler Handler) *KafkaConsumer {
	consumer := events.NewKafkaConsumer(cfg.Brokers, events.PipelineVectorizeRequest, cfg.GroupID)
	consumer.SetProcessor(&ingestProcessor{handler: handler})
	return &KafkaConsumer{consumer: consumer}
}

func (kc *KafkaConsumer) Run(ctx context.Context) error {
	return kc.consumer.Run(ctx)
}

func (kc *KafkaConsumer) Close() error {
	return kc.consumer.Close()
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// KafkaPublisher ships events to a Kafka topic. Production is asynchronous:
// Emit enqueues and returns, delivery failures are logged. Close flushes the
// outstanding queue.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	log    *zap.Logger
}

// NewKafkaPublisher connects to the given seed brokers. The caller owns the
// returned publisher and must Close it on shutdown.
func NewKafkaPublisher(seeds []string, topic string, log *zap.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, log: log}, nil
}

func (p *KafkaPublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		// Key by unit so per-unit events stay ordered within a partition.
		Key:   []byte(event.UnitID.String()),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.log.Warn("audit event delivery failed",
				zap.String("action", string(event.Action)), zap.Error(err))
		}
	})
	return nil
}

func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.log.Warn("audit flush on close failed", zap.Error(err))
	}
	p.client.Close()
	return nil
}

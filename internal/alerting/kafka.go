package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// candidateEvent is the JSON value published per alert candidate.
type candidateEvent struct {
	RunID         string  `json:"run_id"`
	SkyID         string  `json:"sky_id"`
	Location      string  `json:"location"`
	CheapestPrice float64 `json:"cheapest_price"`
	AveragePrice  float64 `json:"average_price"`
	Timestamp     string  `json:"timestamp"`
}

// KafkaNotifier publishes one message per candidate, keyed by location.
type KafkaNotifier struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewKafkaNotifier builds a synchronous, hash-balanced writer for topic.
func NewKafkaNotifier(brokers []string, topic string, logger zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.With().Str("component", "alert_kafka").Logger(),
	}
}

// Name implements Notifier.
func (k *KafkaNotifier) Name() string { return "kafka" }

// Notify writes every candidate in a single batch.
func (k *KafkaNotifier) Notify(ctx context.Context, alert Alert) error {
	msgs := make([]kafka.Message, 0, len(alert.Candidates))
	for _, c := range alert.Candidates {
		value, err := json.Marshal(candidateEvent{
			RunID:         alert.RunID,
			SkyID:         c.SkyID,
			Location:      c.Location,
			CheapestPrice: c.CheapestPrice,
			AveragePrice:  c.AveragePrice,
			Timestamp:     c.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("marshal candidate: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(c.Location), Value: value})
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	k.logger.Info().Str("run_id", alert.RunID).Int("messages", len(msgs)).Msg("alert sent (kafka)")
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

var _ Notifier = (*KafkaNotifier)(nil)

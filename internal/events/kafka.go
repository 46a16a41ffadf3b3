package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures a KafkaSource.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes JSON change events from a topic and publishes them to
// a Hub.
type KafkaSource struct {
	reader messageReader
	hub    *Hub
	logger *zap.Logger
}

// NewKafkaSource creates a consumer group reader for cfg.Topic.
func NewKafkaSource(cfg KafkaConfig, hub *Hub, logger *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newKafkaSource(reader, hub, logger), nil
}

func newKafkaSource(reader messageReader, hub *Hub, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSource{reader: reader, hub: hub, logger: logger.Named("kafka")}
}

// Run consumes until ctx is done or the reader fails. Malformed messages are
// logged and skipped.
func (k *KafkaSource) Run(ctx context.Context) error {
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		var ev ChangeEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			k.logger.Warn("skipping undecodable change event",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if err := ev.Validate(); err != nil {
			k.logger.Warn("skipping invalid change event",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = msg.Time
		}
		k.hub.Publish(ev)
	}
}

// Close closes the reader.
func (k *KafkaSource) Close() error {
	return k.reader.Close()
}

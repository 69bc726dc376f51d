package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/research-ag/icrc1-auction/internal/engine"
)

// messageWriter is the part of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON to one topic. Clearings are keyed by asset
// so that one asset's history stays on one partition.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
	log     zerolog.Logger
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafka builds an asynchronous producer. Delivery failures are logged by
// the writer's completion hook.
func NewKafka(cfg KafkaConfig, log zerolog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("messages", len(msgs)).Msg("unable to deliver events")
			}
		},
	}
	return newKafka(w, log)
}

func newKafka(w messageWriter, log zerolog.Logger) *Kafka {
	return &Kafka{writer: w, timeout: time.Second, log: log}
}

func (k *Kafka) publish(key string, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.Timestamp,
	})
}

func (k *Kafka) ReportClearing(r engine.ClearingReport) error {
	return k.publish(strconv.FormatUint(uint64(r.Asset), 10), ClearingEvent(r))
}

func (k *Kafka) ReportError(source string, err error) error {
	return k.publish(source, ErrorEvent(source, err))
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

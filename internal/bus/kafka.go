package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// KafkaConfig names the cluster and queue topology for one worker family.
type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	InQueue      string
	OutQueue     string
	CommandQueue string
}

// KafkaReceiver implements Receiver on a consumer-group reader.
type KafkaReceiver struct {
	reader *kafka.Reader
}

func NewKafkaReceiver(brokers []string, groupID, topic string) *KafkaReceiver {
	return &KafkaReceiver{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6, // ~10MB
		}),
	}
}

// Fetch reads up to max messages. The wait bound applies to the whole batch:
// once it elapses, whatever arrived is returned. Offsets are not committed
// here; callers Ack explicitly.
func (r *KafkaReceiver) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var out []Message
	for len(out) < max {
		m, err := r.reader.FetchMessage(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return out, fmt.Errorf("fetch message: %w", err)
		}
		out = append(out, Message{Key: m.Key, Value: m.Value, raw: m})
	}
	return out, nil
}

func (r *KafkaReceiver) Ack(ctx context.Context, msg Message) error {
	m, ok := msg.raw.(kafka.Message)
	if !ok {
		return nil
	}
	if err := r.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("commit message (topic=%s partition=%d offset=%d): %w", m.Topic, m.Partition, m.Offset, err)
	}
	return nil
}

func (r *KafkaReceiver) Close() error {
	if err := r.reader.Close(); err != nil {
		observability.LoggerWithTrace(context.Background()).Warn().Err(err).Msg("closing kafka reader")
		return err
	}
	return nil
}

// KafkaSender implements Sender on a topic-pinned writer.
type KafkaSender struct {
	writer *kafka.Writer
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSender) Send(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{Value: value}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

var (
	_ Receiver = (*KafkaReceiver)(nil)
	_ Sender   = (*KafkaSender)(nil)
)

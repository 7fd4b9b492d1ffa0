package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic carries rebuild requests.
const DefaultKafkaTopic = "refinery.rebuild"

// KafkaQueue publishes requests to a single topic. Pop consumes through a
// consumer group; List is a best-effort peek from the first offset.
type KafkaQueue struct {
	brokers []string
	topic   string
	groupID string
	// PopWait bounds how long Pop waits for messages once it has none.
	PopWait time.Duration
}

// NewKafkaQueue takes a comma separated broker list.
func NewKafkaQueue(brokers, topic string) *KafkaQueue {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	var bs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			bs = append(bs, b)
		}
	}
	return &KafkaQueue{brokers: bs, topic: topic, groupID: "refinery-worker", PopWait: 2 * time.Second}
}

func (k *KafkaQueue) ensure() error {
	if len(k.brokers) == 0 {
		return ErrNotConfigured
	}
	return nil
}

func (k *KafkaQueue) writer() *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        k.topic,
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// message keys by coordinate so retries of one coordinate stay ordered.
func message(req Request) (kafka.Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(req.Coordinate), Value: data}, nil
}

func (k *KafkaQueue) Enqueue(ctx context.Context, req Request) error {
	if err := k.ensure(); err != nil {
		return err
	}
	if req.EnqueuedAt == 0 {
		req.EnqueuedAt = time.Now().Unix()
	}
	m, err := message(req)
	if err != nil {
		return err
	}
	w := k.writer()
	defer w.Close()
	return w.WriteMessages(ctx, m)
}

func (k *KafkaQueue) List(ctx context.Context) ([]Request, error) {
	if err := k.ensure(); err != nil {
		return nil, err
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       k.topic,
		GroupID:     "refinery-peek",
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer r.Close()
	items := []Request{}
	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for len(items) < 50 {
		m, err := r.ReadMessage(deadline)
		if err != nil {
			break
		}
		var req Request
		if err := json.Unmarshal(m.Value, &req); err == nil {
			items = append(items, req)
		}
	}
	return items, nil
}

func (k *KafkaQueue) Clear(context.Context) error {
	return errors.New("clear not supported for kafka backend")
}

func (k *KafkaQueue) Stats(ctx context.Context) (Stats, error) {
	if err := k.ensure(); err != nil {
		return Stats{}, err
	}
	conn, err := kafka.DialLeader(ctx, "tcp", k.brokers[0], k.topic, 0)
	if err != nil {
		return Stats{}, err
	}
	defer conn.Close()
	first, err := conn.ReadFirstOffset()
	if err != nil {
		return Stats{}, err
	}
	last, err := conn.ReadLastOffset()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Length: int(last - first)}, nil
}

func (k *KafkaQueue) Pop(ctx context.Context, max int) ([]Request, error) {
	if err := k.ensure(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    k.topic,
		GroupID:  k.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer r.Close()
	readCtx, cancel := context.WithTimeout(ctx, k.PopWait)
	defer cancel()
	items := []Request{}
	for len(items) < max {
		m, err := r.ReadMessage(readCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return items, err
		}
		var req Request
		if err := json.Unmarshal(m.Value, &req); err == nil {
			items = append(items, req)
		}
	}
	return items, ctx.Err()
}

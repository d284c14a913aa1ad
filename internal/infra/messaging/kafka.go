package messaging

import (
	"context"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message はトピックに送る1件
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// KafkaPublisher はkafka.Writerの薄いラッパー
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...Message) error {
	return p.writer.WriteMessages(ctx, toKafkaMessages(msgs, time.Now().UTC())...)
}

// 同じKeyは同じパーティションに入る（注文単位で順序を保つ）
func toKafkaMessages(msgs []Message, now time.Time) []kafka.Message {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		km := kafka.Message{Key: []byte(m.Key), Value: m.Value, Time: now}
		keys := make([]string, 0, len(m.Headers))
		for k := range m.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(m.Headers[k])})
		}
		out = append(out, km)
	}
	return out
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

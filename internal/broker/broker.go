// Package broker публикует уведомления и доменные события заказов в Kafka.
package broker

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
)

// Топики по умолчанию.
const (
	DefaultNotificationsTopic = "order-notifications"
	DefaultEventsTopic        = "order-events"
)

// messageWriter описывает часть kafka.Writer, нужную брокеру.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter создаёт kafka.Writer для топика.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func newMessageID() string {
	return "msg_" + ulid.Make().String()
}

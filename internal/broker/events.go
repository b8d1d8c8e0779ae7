package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// EventPublisher публикует доменные события заказов с GUID заказа в качестве ключа:
// события одного заказа попадают в одну партицию и сохраняют порядок.
type EventPublisher struct {
	writer messageWriter
}

// NewEventPublisher создаёт публикатор событий поверх writer.
func NewEventPublisher(writer messageWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// Publish записывает событие в топик.
func (p *EventPublisher) Publish(ctx context.Context, event model.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderGUID.String()),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(newMessageID())},
		},
	})
	if err != nil {
		return fmt.Errorf("write event %s: %w", event.Type, err)
	}
	return nil
}

// Close закрывает writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

package redis

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

const eventsPattern = "quiz:*:events"

// Sink receives relayed events, typically the in-process broker.
type Sink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventRelay forwards events published by any instance into a local sink.
type EventRelay struct {
	client *redis.Client
	sink   Sink
}

func NewEventRelay(client *redis.Client, sink Sink) *EventRelay {
	return &EventRelay{client: client, sink: sink}
}

// Run blocks until ctx is cancelled. ready, when non-nil, is closed once the
// subscription is confirmed by the server.
func (r *EventRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.PSubscribe(ctx, eventsPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("relay: drop malformed event on %s: %v", msg.Channel, err)
				continue
			}
			if err := r.sink.Publish(ctx, event); err != nil {
				log.Printf("relay: deliver %s for quiz %s: %v", event.Type, event.QuizID, err)
			}
		}
	}
}

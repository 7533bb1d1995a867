package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

// EventPublisher sends session events over Redis pub/sub so every instance can
// relay them to its own websocket clients.
type EventPublisher struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	if err := p.client.Publish(ctx, eventsChannel(event.QuizID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s for quiz %s: %w", event.Type, event.QuizID, err)
	}
	return nil
}

func eventsChannel(quizID string) string {
	return "quiz:" + quizID + ":events"
}

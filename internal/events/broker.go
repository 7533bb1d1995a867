package events

import (
	"context"
	"sync"

	"quiz-session-service/internal/domain"
)

// subscriberBuffer bounds how far a slow subscriber may lag before old
// events are dropped.
const subscriberBuffer = 8

// Broker fans session events out to in-process subscribers, keyed by quiz.
// It implements app.Notifier.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]map[chan domain.Event]struct{})}
}

// Subscribe returns a channel receiving the events of one quiz.
// The caller must invoke the returned cancel function to avoid leaks.
func (b *Broker) Subscribe(quizID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.subscribers[quizID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		b.subscribers[quizID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.subscribers[quizID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subscribers, quizID)
		}
	}
	return ch, cancel
}

// Publish never blocks: a full subscriber loses its oldest pending event.
func (b *Broker) Publish(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[event.QuizID] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}


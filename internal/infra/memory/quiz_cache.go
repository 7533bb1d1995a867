package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
)

// QuizLoader fetches quiz content from the backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCache caches quizzes with TTL to avoid repeated store hits.
type QuizCache struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuiz
	// generation is bumped on Invalidate so in-flight loads do not store stale data.
	generation map[string]uint64
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(loader QuizLoader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		loader:     loader,
		ttl:        ttl,
		clock:      time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:      make(map[string]cachedQuiz),
		generation: make(map[string]uint64),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.lookup(quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := c.lookup(quizID); ok {
			return quiz, nil
		}

		c.mu.RLock()
		gen := c.generation[quizID]
		c.mu.RUnlock()

		quiz, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		c.mu.Lock()
		if c.generation[quizID] == gen && c.ttl > 0 {
			c.cache[quizID] = cachedQuiz{
				quiz:      quiz,
				expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
			}
		}
		c.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz).Clone(), nil
}

// Invalidate drops the cached copy of a quiz.
func (c *QuizCache) Invalidate(_ context.Context, quizID string) {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.generation[quizID]++
	c.mu.Unlock()
	c.sf.Forget(quizID)
}

func (c *QuizCache) lookup(quizID string) (domain.Quiz, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
		return entry.quiz.Clone(), true
	}
	return domain.Quiz{}, false
}

// ttlWithJitterLocked adds up to 10% jitter to spread expirations.
func (c *QuizCache) ttlWithJitterLocked() time.Duration {
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

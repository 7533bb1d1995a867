package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
)

// QuizLoader fetches quiz content from the backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCache keeps quiz content in Redis so that every instance shares one copy.
// Content is stored as JSON at quiz:{quizID}:content and falls back to the
// loader on a miss. Redis failures degrade to a direct load.
//
// quiz:{quizID}:version is bumped on Invalidate. A load only writes back if
// the version it started from is still current, so an invalidation racing an
// in-flight load cannot resurrect stale content.
type QuizCache struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizCache(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.lookup(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check in case another instance filled it.
		if quiz, ok := c.lookup(ctx, quizID); ok {
			return quiz, nil
		}

		version, versionErr := c.version(ctx, c.client, quizID)
		if versionErr != nil {
			log.Printf("read cache version of quiz %s: %v", quizID, versionErr)
		}
		quiz, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if versionErr == nil {
			c.store(ctx, quiz, version)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz).Clone(), nil
}

// store writes quiz back unless the version moved since the load started.
func (c *QuizCache) store(ctx context.Context, quiz domain.Quiz, version int64) {
	ttl := c.ttlWithJitter()
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(quiz)
	if err != nil {
		log.Printf("encode quiz %s: %v", quiz.ID, err)
		return
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.version(ctx, tx, quiz.ID)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, contentKey(quiz.ID), payload, ttl)
			return nil
		})
		return err
	}, versionKey(quiz.ID))
	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		log.Printf("quiz %s changed while loading; not caching", quiz.ID)
	default:
		log.Printf("cache quiz %s: %v", quiz.ID, err)
	}
}

var errStaleLoad = errors.New("quiz invalidated during load")

func (c *QuizCache) version(ctx context.Context, cmd redis.Cmdable, quizID string) (int64, error) {
	v, err := cmd.Get(ctx, versionKey(quizID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Invalidate removes the shared copy and bumps its version. Errors are
// logged; the TTL bounds staleness.
func (c *QuizCache) Invalidate(ctx context.Context, quizID string) {
	c.sf.Forget(quizID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(quizID))
		pipe.Expire(ctx, versionKey(quizID), versionTTL)
		pipe.Del(ctx, contentKey(quizID))
		return nil
	})
	if err != nil {
		log.Printf("invalidate quiz %s: %v", quizID, err)
	}
}

func (c *QuizCache) lookup(ctx context.Context, quizID string) (domain.Quiz, bool) {
	payload, err := c.client.Get(ctx, contentKey(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("read cached quiz %s: %v", quizID, err)
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(payload, &quiz); err != nil {
		log.Printf("decode cached quiz %s: %v", quizID, err)
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// versionTTL outlives any single load by far; an expired version reads as 0.
const versionTTL = 24 * time.Hour

func contentKey(quizID string) string {
	return "quiz:" + quizID + ":content"
}

func versionKey(quizID string) string {
	return "quiz:" + quizID + ":version"
}

package redis

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// NameLoader fetches display names from the identity collaborator.
type NameLoader interface {
	LoadName(ctx context.Context, studentID string) (string, error)
}

// NameCache caches display names in Redis and falls back to a loader on cache miss.
// Names are stored as: SET student:{studentID}:name {name} EX ttl
// A stale copy (no TTL) is kept so a failing loader does not blank names:
//
//	SET student:{studentID}:name:last {name}
type NameCache struct {
	client *redis.Client
	loader NameLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewNameCache(client *redis.Client, loader NameLoader, ttl time.Duration) *NameCache {
	return &NameCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *NameCache) ResolveName(ctx context.Context, studentID string) (string, error) {
	name, err := c.client.Get(ctx, nameKey(studentID)).Result()
	if err == nil {
		return name, nil
	}

	result, err, _ := c.sf.Do(studentID, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if name, err := c.client.Get(ctx, nameKey(studentID)).Result(); err == nil {
			return name, nil
		}

		name, err := c.loader.LoadName(ctx, studentID)
		if err != nil {
			return "", err
		}
		pipe := c.client.Pipeline()
		pipe.Set(ctx, nameKey(studentID), name, c.ttlWithJitter())
		pipe.Set(ctx, lastNameKey(studentID), name, 0)
		_, _ = pipe.Exec(ctx)
		return name, nil
	})
	if err == nil {
		return result.(string), nil
	}

	stale, staleErr := c.client.Get(ctx, lastNameKey(studentID)).Result()
	if staleErr == nil {
		return stale, nil
	}
	if !errors.Is(staleErr, redis.Nil) {
		return "", classify(staleErr)
	}
	return "", err
}

// Invalidate drops the fresh copy so the next lookup goes to the loader.
func (c *NameCache) Invalidate(ctx context.Context, studentID string) error {
	return c.client.Del(ctx, nameKey(studentID)).Err()
}

func nameKey(studentID string) string {
	return "student:" + studentID + ":name"
}

func lastNameKey(studentID string) string {
	return "student:" + studentID + ":name:last"
}

func (c *NameCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNameNotFound is returned by loaders that have no name for a student.
var ErrNameNotFound = errors.New("student name not found")

// NameLoader fetches display names from the identity collaborator (roster DB, auth service).
type NameLoader interface {
	LoadName(ctx context.Context, studentID string) (string, error)
}

// NameCache caches display names with TTL to avoid repeated lookups.
// When a refresh fails, the last known name is served instead.
type NameCache struct {
	loader NameLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedName
}

type cachedName struct {
	name      string
	expiresAt time.Time
}

func NewNameCache(loader NameLoader, ttl time.Duration) *NameCache {
	return &NameCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedName),
	}
}

func (c *NameCache) ResolveName(ctx context.Context, studentID string) (string, error) {
	now := c.clock()

	c.mu.RLock()
	entry, ok := c.cache[studentID]
	c.mu.RUnlock()
	if ok && entry.expiresAt.After(now) {
		return entry.name, nil
	}

	result, err, _ := c.sf.Do(studentID, func() (interface{}, error) {
		name, err := c.loader.LoadName(ctx, studentID)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cache[studentID] = cachedName{
			name:      name,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return name, nil
	})
	if err != nil {
		if ok {
			return entry.name, nil
		}
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops a cached name so the next lookup refreshes it.
func (c *NameCache) Invalidate(studentID string) {
	c.mu.Lock()
	delete(c.cache, studentID)
	c.mu.Unlock()
}

// add up to 10% jitter to spread expirations; rnd is guarded by mu.
func (c *NameCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticNameLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticNameLoader struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewStaticNameLoader(names map[string]string) *StaticNameLoader {
	copied := make(map[string]string, len(names))
	for id, name := range names {
		copied[id] = name
	}
	return &StaticNameLoader{names: copied}
}

func (l *StaticNameLoader) LoadName(_ context.Context, studentID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if name, ok := l.names[studentID]; ok {
		return name, nil
	}
	return "", ErrNameNotFound
}

// SetName registers or renames a student.
func (l *StaticNameLoader) SetName(studentID, name string) {
	l.mu.Lock()
	l.names[studentID] = name
	l.mu.Unlock()
}

package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNameCacheCaches(t *testing.T) {
	loader := &countingLoader{NameLoader: NewStaticNameLoader(map[string]string{"s1": "Ada"})}
	cache := NewNameCache(loader, time.Minute)

	name, err := cache.ResolveName(context.Background(), "s1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if name != "Ada" {
		t.Fatalf("expected Ada, got %q", name)
	}
	if _, err := cache.ResolveName(context.Background(), "s1"); err != nil {
		t.Fatalf("resolve 2: %v", err)
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected cache hit, loader calls %d", got)
	}
}

func TestNameCacheRefreshesAfterTTL(t *testing.T) {
	static := NewStaticNameLoader(map[string]string{"s1": "Ada"})
	loader := &countingLoader{NameLoader: static}
	cache := NewNameCache(loader, time.Minute)
	now := time.Now()
	cache.clock = func() time.Time { return now }

	if _, err := cache.ResolveName(context.Background(), "s1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	static.SetName("s1", "Ada L.")
	now = now.Add(2 * time.Minute)

	name, err := cache.ResolveName(context.Background(), "s1")
	if err != nil {
		t.Fatalf("resolve after ttl: %v", err)
	}
	if name != "Ada L." {
		t.Fatalf("expected renamed student, got %q", name)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected 2 loads, got %d", got)
	}
}

func TestNameCacheServesStaleOnLoaderFailure(t *testing.T) {
	loader := &flakyLoader{name: "Ada"}
	cache := NewNameCache(loader, time.Minute)
	now := time.Now()
	cache.clock = func() time.Time { return now }

	if _, err := cache.ResolveName(context.Background(), "s1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	loader.fail = true
	now = now.Add(time.Hour)

	name, err := cache.ResolveName(context.Background(), "s1")
	if err != nil {
		t.Fatalf("expected stale name, got error %v", err)
	}
	if name != "Ada" {
		t.Fatalf("expected stale Ada, got %q", name)
	}
}

func TestNameCacheUnknownStudent(t *testing.T) {
	cache := NewNameCache(NewStaticNameLoader(nil), time.Minute)
	if _, err := cache.ResolveName(context.Background(), "ghost"); !errors.Is(err, ErrNameNotFound) {
		t.Fatalf("expected ErrNameNotFound, got %v", err)
	}
}

func TestNameCacheInvalidate(t *testing.T) {
	loader := &countingLoader{NameLoader: NewStaticNameLoader(map[string]string{"s1": "Ada"})}
	cache := NewNameCache(loader, time.Minute)
	_, _ = cache.ResolveName(context.Background(), "s1")
	cache.Invalidate("s1")
	_, _ = cache.ResolveName(context.Background(), "s1")
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", got)
	}
}

type countingLoader struct {
	NameLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadName(ctx context.Context, studentID string) (string, error) {
	l.calls.Add(1)
	return l.NameLoader.LoadName(ctx, studentID)
}

type flakyLoader struct {
	name string
	fail bool
}

func (l *flakyLoader) LoadName(context.Context, string) (string, error) {
	if l.fail {
		return "", errors.New("identity service down")
	}
	return l.name, nil
}

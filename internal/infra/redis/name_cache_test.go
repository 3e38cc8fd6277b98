package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mapLoader struct {
	names map[string]string
	calls int
	err   error
}

func (l *mapLoader) LoadName(_ context.Context, studentID string) (string, error) {
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	return l.names[studentID], nil
}

func TestNameCacheStoresWithTTL(t *testing.T) {
	mr, client := newTestClient(t)
	loader := &mapLoader{names: map[string]string{"s1": "Ada"}}
	cache := NewNameCache(client, loader, time.Minute)

	name, err := cache.ResolveName(context.Background(), "s1")
	if err != nil || name != "Ada" {
		t.Fatalf("resolve: %q %v", name, err)
	}
	if ttl := mr.TTL("student:s1:name"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if _, err := cache.ResolveName(context.Background(), "s1"); err != nil {
		t.Fatalf("resolve 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestNameCacheFallsBackToLastKnownName(t *testing.T) {
	mr, client := newTestClient(t)
	loader := &mapLoader{names: map[string]string{"s1": "Ada"}}
	cache := NewNameCache(client, loader, time.Minute)

	if _, err := cache.ResolveName(context.Background(), "s1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	loader.err = errors.New("identity service down")

	name, err := cache.ResolveName(context.Background(), "s1")
	if err != nil {
		t.Fatalf("expected stale name, got %v", err)
	}
	if name != "Ada" {
		t.Fatalf("expected Ada, got %q", name)
	}
}

func TestNameCacheReturnsLoaderErrorWithoutHistory(t *testing.T) {
	_, client := newTestClient(t)
	boom := errors.New("boom")
	cache := NewNameCache(client, &mapLoader{err: boom}, time.Minute)

	if _, err := cache.ResolveName(context.Background(), "s1"); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

package cardstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"egcards/internal/card"
	"egcards/internal/syncbus"
)

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	value, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestSaveStoresOnlyPublishedSubset(t *testing.T) {
	client := newFakeRedis()
	store := New(client, nil, nil)
	ctx := context.Background()

	cards := []card.Card{
		{ID: "egcard1", Name: "draft"},
		{ID: "egcard2", Name: "live", Published: true},
	}
	if err := store.Save(ctx, cards); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := store.Load(ctx)
	if len(loaded) != 1 || loaded[0].ID != "egcard2" {
		t.Fatalf("loaded = %v, want only egcard2", loaded)
	}

	// 幂等：相同输入重复写入，结果不变。
	if err := store.Save(ctx, cards); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if again := store.Load(ctx); len(again) != 1 || again[0].ID != "egcard2" {
		t.Fatalf("loaded after resave = %v", again)
	}
}

func TestSaveRejectsInvalidSet(t *testing.T) {
	store := New(newFakeRedis(), nil, nil)
	dup := []card.Card{
		{ID: "egcard1", Published: true},
		{ID: "egcard1", Published: true},
	}
	if err := store.Save(context.Background(), dup); err == nil {
		t.Fatal("expected validation error for duplicate ids")
	}
}

func TestLoadDegradesToEmpty(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		store := New(newFakeRedis(), nil, nil)
		if got := store.Load(ctx); got != nil {
			t.Fatalf("Load = %v, want nil", got)
		}
	})

	t.Run("storage unavailable", func(t *testing.T) {
		client := newFakeRedis()
		client.getErr = errors.New("connection refused")
		store := New(client, nil, nil)
		if got := store.Load(ctx); got != nil {
			t.Fatalf("Load = %v, want nil", got)
		}
	})

	t.Run("corrupt payload", func(t *testing.T) {
		client := newFakeRedis()
		client.data[Key] = "{not json"
		store := New(client, nil, nil)
		if got := store.Load(ctx); got != nil {
			t.Fatalf("Load = %v, want nil", got)
		}
	})

	t.Run("invalid records", func(t *testing.T) {
		client := newFakeRedis()
		client.data[Key] = `[{"id":""}]`
		store := New(client, nil, nil)
		if got := store.Load(ctx); got != nil {
			t.Fatalf("Load = %v, want nil", got)
		}
	})
}

func TestFind(t *testing.T) {
	client := newFakeRedis()
	store := New(client, nil, nil)
	ctx := context.Background()

	if err := store.Save(ctx, []card.Card{{ID: "egcard1", Published: true}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Find(ctx, "egcard1"); err != nil {
		t.Fatalf("Find(egcard1) = %v", err)
	}
	if _, err := store.Find(ctx, "egcard2"); !errors.Is(err, card.ErrNotFound) {
		t.Fatalf("Find(egcard2) = %v, want ErrNotFound", err)
	}
}

func TestSaveAndClearNotifyBus(t *testing.T) {
	bus := syncbus.New(nil, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	client := newFakeRedis()
	store := New(client, bus, nil)
	ctx := context.Background()

	if err := store.Save(ctx, []card.Card{{ID: "egcard1", Published: true}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no sync signal after Save")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no sync signal after Clear")
	}
	if got := store.Load(ctx); got != nil {
		t.Fatalf("Load after Clear = %v, want nil", got)
	}
}

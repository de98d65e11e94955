package viewer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"egcards/internal/card"
	"egcards/internal/cardstore"
	"egcards/internal/syncbus"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func TestResolveTransitions(t *testing.T) {
	ctx := context.Background()
	bus := syncbus.New(nil, nil)
	store := cardstore.New(newFakeRedis(), bus, nil)

	session := NewSession(ctx, store, bus, "egcard1", nil)
	if snap := session.Snapshot(); snap.State != StateNotFound {
		t.Fatalf("state = %v, want not_found", snap.State)
	}
	// 未找到时仍有兜底位置。
	if snap := session.Snapshot(); snap.Position != card.DefaultPosition {
		t.Fatalf("position = %v, want default", snap.Position)
	}

	published := []card.Card{{
		ID:        "egcard1",
		Name:      "sunset",
		Published: true,
		TextFields: []card.TextField{{
			Label:    card.DefaultFieldLabel,
			Position: card.Position{X: 50, Y: 60},
		}},
	}}
	if err := store.Save(ctx, published); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if state := session.Resolve(ctx); state != StateFound {
		t.Fatalf("state = %v, want found", state)
	}
	snap := session.Snapshot()
	if snap.Card.ID != "egcard1" || snap.Position != (card.Position{X: 50, Y: 60}) {
		t.Fatalf("snapshot = %+v", snap)
	}

	// 撤下后下一次解析回到"未找到"。
	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if state := session.Resolve(ctx); state != StateNotFound {
		t.Fatalf("state = %v, want not_found", state)
	}
}

func TestRunReresolvesOnSyncSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := syncbus.New(nil, nil)
	store := cardstore.New(newFakeRedis(), bus, nil)

	session := NewSession(ctx, store, bus, "egcard1", nil)
	snaps := make(chan Snapshot, 1)
	go session.Run(ctx, func(snap Snapshot) {
		select {
		case snaps <- snap:
		default:
		}
	})

	// 订阅生效后再写入，信号触发重新解析。
	time.Sleep(10 * time.Millisecond)
	if err := store.Save(ctx, []card.Card{{ID: "egcard1", Published: true}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-snaps:
			if snap.State == StateFound {
				if got := session.Snapshot().State; got != StateFound {
					t.Fatalf("session state = %v, want found", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("session never re-resolved to found")
		}
	}
}

func TestSnapshotVisitorNameFallback(t *testing.T) {
	ctx := context.Background()
	store := cardstore.New(newFakeRedis(), nil, nil)
	session := NewSession(ctx, store, syncbus.New(nil, nil), "egcard1", nil)

	if name := session.Snapshot().VisitorName; name != card.DefaultFieldLabel {
		t.Fatalf("name = %q, want %q", name, card.DefaultFieldLabel)
	}

	session.SetVisitorName("  Alice  ")
	if name := session.Snapshot().VisitorName; name != "Alice" {
		t.Fatalf("name = %q, want Alice", name)
	}

	session.SetVisitorName("   ")
	if name := session.Snapshot().VisitorName; name != card.DefaultFieldLabel {
		t.Fatalf("name = %q, want fallback", name)
	}
}

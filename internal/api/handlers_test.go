package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"egcards/internal/api/middleware"
	"egcards/internal/card"
	"egcards/internal/cardstore"
	"egcards/internal/viewer"
	"egcards/internal/wallet"
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

func newTestWalletService(t *testing.T) *wallet.Service {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	service, err := wallet.NewService(privatePEM, publicPEM, time.Hour)
	if err != nil {
		t.Fatalf("wallet.NewService: %v", err)
	}
	return service
}

// 不可达的 Redis 地址：限流降级路径（告警后放行）。
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func jsonContext(t *testing.T, method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func TestWalletConnect(t *testing.T) {
	handler := NewWalletHandler(newTestWalletService(t), unreachableRedis(), slog.Default())

	t.Run("valid address", func(t *testing.T) {
		c, w := jsonContext(t, http.MethodPost, "/v1/wallet/connect",
			`{"address":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"}`)
		handler.Connect(c)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp struct {
			Address   string `json:"address"`
			Token     string `json:"token"`
			ExpiresIn int    `json:"expires_in"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Address != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
			t.Fatalf("address = %q", resp.Address)
		}
		if resp.Token == "" || resp.ExpiresIn != 3600 {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("invalid address", func(t *testing.T) {
		c, w := jsonContext(t, http.MethodPost, "/v1/wallet/connect", `{"address":"nope"}`)
		handler.Connect(c)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("missing body", func(t *testing.T) {
		c, w := jsonContext(t, http.MethodPost, "/v1/wallet/connect", `{}`)
		handler.Connect(c)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestWalletAuthMiddleware(t *testing.T) {
	service := newTestWalletService(t)
	address, token, err := service.Connect("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	run := func(header string) (*gin.Context, *httptest.ResponseRecorder) {
		c, w := jsonContext(t, http.MethodGet, "/v1/editor/cards", "")
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}
		middleware.WalletAuth(service)(c)
		return c, w
	}

	t.Run("valid token", func(t *testing.T) {
		c, _ := run("Bearer " + token)
		got, ok := middleware.AddressFromContext(c)
		if !ok || got != address {
			t.Fatalf("address = %q, ok = %v", got, ok)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		_, w := run("")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		_, w := run("Token abc")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		_, w := run("Bearer not.a.jwt")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestViewerGetCard(t *testing.T) {
	store := cardstore.New(newFakeRedis(), nil, nil)
	handler := NewViewerHandler(nil, store, nil, nil, nil, nil, slog.Default())
	ctx := context.Background()

	if err := store.Save(ctx, []card.Card{{
		ID:        "egcard1",
		Name:      "sunset",
		Published: true,
	}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	t.Run("published card", func(t *testing.T) {
		c, w := jsonContext(t, http.MethodGet, "/v1/cards/egcard1", "")
		c.Params = gin.Params{{Key: "id", Value: "egcard1"}}
		handler.GetCard(c)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp struct {
			Card     card.Card     `json:"card"`
			Position card.Position `json:"position"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Card.ID != "egcard1" {
			t.Fatalf("card = %+v", resp.Card)
		}
		// 未携带文本域的卡片使用兜底位置。
		if resp.Position != card.DefaultPosition {
			t.Fatalf("position = %v, want default", resp.Position)
		}
	})

	t.Run("unknown card", func(t *testing.T) {
		c, w := jsonContext(t, http.MethodGet, "/v1/cards/egcard9", "")
		c.Params = gin.Params{{Key: "id", Value: "egcard9"}}
		handler.GetCard(c)
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestSnapshotPayload(t *testing.T) {
	t.Run("found card carries card and position", func(t *testing.T) {
		snap := viewer.Snapshot{
			State:    viewer.StateFound,
			Card:     card.Card{ID: "egcard1", Name: "sunset", Published: true},
			Position: card.Position{X: 50, Y: 60},
		}
		payload, err := snapshotPayload(snap)
		if err != nil {
			t.Fatalf("snapshotPayload: %v", err)
		}
		var msg struct {
			Type     string        `json:"type"`
			State    string        `json:"state"`
			Card     *card.Card    `json:"card"`
			Position card.Position `json:"position"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if msg.Type != "card_state" || msg.State != "found" {
			t.Fatalf("msg = %+v", msg)
		}
		if msg.Card == nil || msg.Card.ID != "egcard1" {
			t.Fatalf("card = %+v", msg.Card)
		}
		if msg.Position != (card.Position{X: 50, Y: 60}) {
			t.Fatalf("position = %v", msg.Position)
		}
	})

	t.Run("not found omits card but keeps position", func(t *testing.T) {
		snap := viewer.Snapshot{
			State:    viewer.StateNotFound,
			Position: card.DefaultPosition,
		}
		payload, err := snapshotPayload(snap)
		if err != nil {
			t.Fatalf("snapshotPayload: %v", err)
		}
		if strings.Contains(string(payload), `"card"`) {
			t.Fatalf("payload should omit card: %s", payload)
		}
		var msg struct {
			State    string        `json:"state"`
			Position card.Position `json:"position"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if msg.State != "not_found" || msg.Position != card.DefaultPosition {
			t.Fatalf("msg = %+v", msg)
		}
	})
}

func TestIncrWithTTL(t *testing.T) {
	client := unreachableRedis()
	if _, err := incrWithTTL(context.Background(), client, "rate:test", time.Minute); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
}

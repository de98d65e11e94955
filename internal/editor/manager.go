package editor

import (
	"context"
	"log/slog"
	"sync"

	"egcards/internal/cardstore"
)

// Manager 按创作者（钱包地址）维护编辑会话，同一地址始终拿到同一个会话。
type Manager struct {
	store   *cardstore.Store
	baseURL string
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store *cardstore.Store, baseURL string, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		baseURL:  baseURL,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Session 返回地址对应的编辑会话，不存在则创建。
func (m *Manager) Session(ctx context.Context, address string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[address]; ok {
		return s
	}
	s := NewSession(ctx, m.store, m.baseURL, m.logger)
	m.sessions[address] = s
	return s
}

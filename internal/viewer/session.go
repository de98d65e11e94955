package viewer

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"egcards/internal/card"
	"egcards/internal/cardstore"
	"egcards/internal/syncbus"
)

// State 是观看会话的解析状态。
type State int

const (
	// StateLoading 表示尚未完成首次解析。
	StateLoading State = iota
	// StateFound 表示卡片已解析成功，之后每个同步信号都会重新进入该状态。
	StateFound
	// StateNotFound 表示卡片不在已发布集合中；下一个同步信号会重新尝试解析。
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateFound:
		return "found"
	case StateNotFound:
		return "not_found"
	default:
		return "loading"
	}
}

// Snapshot 是会话某一时刻的只读视图。
type Snapshot struct {
	State       State
	Card        card.Card
	Position    card.Position
	VisitorName string
}

// Session 读取一张已发布卡片并在每个同步信号到来时重新解析。
// 访客输入的名字只存在于会话内，永远不会写回 Card Store。
type Session struct {
	store  *cardstore.Store
	bus    *syncbus.Bus
	cardID string
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	card        card.Card
	position    card.Position
	visitorName string
}

// NewSession 构造观看会话并完成首次解析。
func NewSession(ctx context.Context, store *cardstore.Store, bus *syncbus.Bus, cardID string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		store:    store,
		bus:      bus,
		cardID:   cardID,
		logger:   logger.With(slog.String("card_id", cardID)),
		state:    StateLoading,
		position: card.DefaultPosition,
	}
	s.Resolve(ctx)
	return s
}

// Resolve 从 Card Store 重新加载卡片。重复调用是无害的：
// 数据未变时结果不变（同步信号的接收端要求幂等）。
func (s *Session) Resolve(ctx context.Context) State {
	c, err := s.store.Find(ctx, s.cardID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateNotFound
		return s.state
	}

	s.state = StateFound
	s.card = c
	s.position = c.FieldPosition()
	return s.state
}

// Run 订阅同步信号并在每次信号到来时重新解析，阻塞直到 ctx 结束。
// onChange 不为 nil 时，每次重新解析后会携带最新快照被调用。
func (s *Session) Run(ctx context.Context, onChange func(Snapshot)) {
	ch, cancel := s.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			state := s.Resolve(ctx)
			s.logger.Debug("viewer re-resolved after sync signal", slog.String("state", state.String()))
			if onChange != nil {
				onChange(s.Snapshot())
			}
		}
	}
}

// SetVisitorName 记录访客输入的名字（仅限会话内）。
func (s *Session) SetVisitorName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitorName = strings.TrimSpace(name)
}

// Snapshot 返回当前状态的副本。访客名为空时回落到占位文本。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.visitorName
	if name == "" {
		name = card.DefaultFieldLabel
	}
	return Snapshot{
		State:       s.state,
		Card:        s.card,
		Position:    s.position,
		VisitorName: name,
	}
}

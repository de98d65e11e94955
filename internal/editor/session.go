package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"egcards/internal/card"
	"egcards/internal/cardstore"
)

var (
	// ErrNoFile 表示上传时未选择文件或资源引用为空。
	ErrNoFile = errors.New("no file chosen")
	// ErrCardNotFound 表示工作集中不存在该 id 的卡片。
	ErrCardNotFound = errors.New("card not in working set")
)

// Session 是单个创作者的编辑会话：持有工作集（草稿与已发布卡片）
// 以及唯一的文本域编辑槽位。所有操作经同一把锁串行化——
// 特别是 id 生成必须同步读取当前卡片数量，两次并发上传不会复用同一个 id。
//
// 对 Card Store 的每次变更都是"读改写整块替换"，任何同步信号的
// 接收方都不会观察到半写状态。
type Session struct {
	store   *cardstore.Store
	logger  *slog.Logger
	baseURL string
	now     func() time.Time

	mu    sync.Mutex
	cards []card.Card
	field *card.TextField
}

// NewSession 构造会话并用 Card Store 中已发布的卡片作为工作集初始值，
// 这样创作者重新进入后仍能管理此前发布的卡片。
func NewSession(ctx context.Context, store *cardstore.Store, baseURL string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		store:   store,
		logger:  logger,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		now:     time.Now,
	}
	s.cards = store.Load(ctx)
	return s
}

// Cards 返回工作集快照。
func (s *Session) Cards() []card.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]card.Card, len(s.cards))
	copy(out, s.cards)
	return out
}

// Field 返回当前槽位中的文本域（若有）。
func (s *Session) Field() (card.TextField, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.field == nil {
		return card.TextField{}, false
	}
	return *s.field, true
}

// Upload 用一个可展示的模板资源引用创建一张未发布卡片。
// 卡片名取文件名去掉 .svg/.png 后缀，id 为 "egcard" + (当前数量+1)。
func (s *Session) Upload(fileName, svgURL string) (card.Card, error) {
	if strings.TrimSpace(svgURL) == "" {
		return card.Card{}, ErrNoFile
	}

	name := strings.TrimSpace(fileName)
	name = strings.TrimSuffix(name, ".svg")
	name = strings.TrimSuffix(name, ".png")
	if name == "" {
		return card.Card{}, ErrNoFile
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("egcard%d", len(s.cards)+1)
	c := card.Card{
		ID:         id,
		Name:       name,
		SVGURL:     svgURL,
		Published:  false,
		URL:        "/" + id,
		CreatedAt:  s.now(),
		TextFields: nil,
	}
	s.cards = append(s.cards, c)
	return c, nil
}

// PlaceField 按画布内的点击点放置文本域。槽位已占用时失败，
// 调用方需先 ClearField。
func (s *Session) PlaceField(clickX, clickY float64) (card.TextField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.field != nil {
		return card.TextField{}, card.ErrFieldAlreadyPlaced
	}
	f := card.NewField(clickX, clickY)
	s.field = &f
	return f, nil
}

// MoveField 按增量移动槽位中的文本域并收敛到画布范围内。
// 若工作集中存在已携带文本域的已发布卡片，新位置会在同一次
// 读改写中写入 Card Store 并发出同步信号（观看端实时跟随）。
func (s *Session) MoveField(ctx context.Context, dx, dy float64) (card.TextField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.field == nil {
		return card.TextField{}, card.ErrNoFieldPlaced
	}

	prev := s.field.Position
	s.field.Position = card.ClampPosition(card.Position{
		X: s.field.Position.X + dx,
		Y: s.field.Position.Y + dy,
	})

	touched := make(map[int][]card.TextField)
	for i := range s.cards {
		if s.cards[i].Published && len(s.cards[i].TextFields) > 0 {
			touched[i] = s.cards[i].TextFields
			s.cards[i].TextFields = []card.TextField{*s.field}
		}
	}
	if len(touched) > 0 {
		if err := s.store.Save(ctx, s.cards); err != nil {
			// 回滚槽位与卡片，保持内存与存储的一致性。
			s.field.Position = prev
			for i, fields := range touched {
				s.cards[i].TextFields = fields
			}
			return card.TextField{}, err
		}
	}
	return *s.field, nil
}

// ClearField 清空编辑槽位。
func (s *Session) ClearField() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.field = nil
}

// Publish 将卡片标记为已发布，附带当前槽位中的文本域（若有），
// 并把完整的已发布子集写入 Card Store。
func (s *Session) Publish(ctx context.Context, cardID string) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.indexOf(cardID)
	if err != nil {
		return card.Card{}, err
	}

	s.cards[i].Published = true
	if s.field != nil {
		s.cards[i].TextFields = []card.TextField{*s.field}
	}

	if err := s.store.Save(ctx, s.cards); err != nil {
		// 回滚内存状态，保持"已发布 ⇔ 在存储中"的一致性。
		s.cards[i].Published = false
		return card.Card{}, err
	}
	return s.cards[i], nil
}

// Unpublish 将卡片撤下：标记为未发布并从 Card Store 中移除，
// 卡片本身仍留在工作集里。
func (s *Session) Unpublish(ctx context.Context, cardID string) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.indexOf(cardID)
	if err != nil {
		return card.Card{}, err
	}

	wasPublished := s.cards[i].Published
	s.cards[i].Published = false

	if err := s.store.Save(ctx, s.cards); err != nil {
		s.cards[i].Published = wasPublished
		return card.Card{}, err
	}
	return s.cards[i], nil
}

// Delete 将卡片从工作集中移除；若其已发布，同一次写入也会把它
// 从 Card Store 中移除。
func (s *Session) Delete(ctx context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.indexOf(cardID)
	if err != nil {
		return err
	}

	removed := s.cards[i]
	next := make([]card.Card, 0, len(s.cards)-1)
	next = append(next, s.cards[:i]...)
	next = append(next, s.cards[i+1:]...)

	if removed.Published {
		// 先写存储再提交内存，失败时工作集保持原样，不会分叉。
		if err := s.store.Save(ctx, next); err != nil {
			return err
		}
	}
	s.cards = next
	return nil
}

// CardURL 返回卡片的绝对访问地址（origin + 路径）。
func (s *Session) CardURL(cardID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.indexOf(cardID)
	if err != nil {
		return "", err
	}
	return s.baseURL + s.cards[i].URL, nil
}

func (s *Session) indexOf(cardID string) (int, error) {
	for i := range s.cards {
		if s.cards[i].ID == cardID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
}

package cardstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"egcards/internal/card"
	"egcards/internal/syncbus"
)

// Key 是持久化已发布卡片集合的唯一存储键。集合整体序列化为一个
// JSON 数组，每次变更都整块重写：消费者永远看不到半写状态。
const Key = "publishedCards"

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store 是已发布卡片的唯一事实来源。观看端只读取这里。
type Store struct {
	client redisCommander
	bus    *syncbus.Bus
	logger *slog.Logger
}

// New 构造 Store。bus 允许为 nil（不发同步信号）。
func New(client redisCommander, bus *syncbus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, bus: bus, logger: logger}
}

// Save 用输入中 published 为 true 的子集整体替换持久化集合，
// 随后在两条同步路径上发出变更信号。对相同输入重复调用结果一致（幂等）。
func (s *Store) Save(ctx context.Context, cards []card.Card) error {
	published := card.PublishedSubset(cards)
	if err := card.ValidateSet(published); err != nil {
		return fmt.Errorf("validate published cards: %w", err)
	}

	data, err := json.Marshal(published)
	if err != nil {
		return fmt.Errorf("marshal published cards: %w", err)
	}

	if err := s.client.Set(ctx, Key, data, 0).Err(); err != nil {
		return fmt.Errorf("write card store: %w", err)
	}

	if s.bus != nil {
		s.bus.Notify(ctx)
	}
	return nil
}

// Load 返回当前已发布的卡片集合。键不存在、存储不可用或数据不可解析
// 都降级为空集合并记录日志，绝不向调用方抛出：观看端宁可显示
// "未找到"也不能崩溃。
func (s *Store) Load(ctx context.Context) []card.Card {
	raw, err := s.client.Get(ctx, Key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		s.logger.Error("read card store failed, treating as empty", slog.Any("error", err))
		return nil
	}

	var cards []card.Card
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		s.logger.Error("decode card store failed, treating as empty", slog.Any("error", err))
		return nil
	}
	if err := card.ValidateSet(cards); err != nil {
		s.logger.Error("card store holds invalid records, treating as empty", slog.Any("error", err))
		return nil
	}
	return cards
}

// Find 按 id 查找一张已发布卡片。
func (s *Store) Find(ctx context.Context, id string) (card.Card, error) {
	c, ok := card.FindByID(s.Load(ctx), id)
	if !ok {
		return card.Card{}, card.ErrNotFound
	}
	return c, nil
}

// Clear 删除存储键并发出同步信号。键不存在视为成功。
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, Key).Err(); err != nil {
		return fmt.Errorf("clear card store: %w", err)
	}
	if s.bus != nil {
		s.bus.Notify(ctx)
	}
	return nil
}

package syncbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel 是卡片集合变更通知使用的 Redis Pub/Sub 频道。
const Channel = "cards:updated"

// Signal 是通过 Redis 传递的通知载荷。接收方只把它当作"该重新加载了"
// 的信号，不信任其中携带的任何数据。
type Signal struct {
	Origin string `json:"origin"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Bus 将一次 Card Store 写入扩散到两条投递路径：
//   - 同进程：订阅者各持有一个容量为 1 的信号通道，通知合并、从不阻塞写入方；
//   - 跨进程：Redis Pub/Sub。写入方自身通过本地路径收到信号，
//     Listen 会丢弃自己发出的回声，避免同一次写入被投递两次。
//
// 两条路径都是尽力而为：接收端重复加载是无害的（幂等）。
type Bus struct {
	origin    string
	publisher redisPublisher
	logger    *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

// New 构造 Bus。publisher 允许为 nil（纯进程内模式，测试常用）。
func New(publisher redisPublisher, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		origin:    uuid.NewString(),
		publisher: publisher,
		logger:    logger,
		subs:      make(map[int]chan struct{}),
	}
}

// Subscribe 注册一个同进程订阅者，返回信号通道与取消函数。
func (b *Bus) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
	return ch, cancel
}

// Notify 在一次 Card Store 写入之后调用：先唤醒本进程订阅者，
// 再向 Redis 广播。广播失败只记录日志，不影响写入本身。
func (b *Bus) Notify(ctx context.Context) {
	b.notifyLocal()

	if b.publisher == nil {
		return
	}
	payload, err := json.Marshal(Signal{Origin: b.origin})
	if err != nil {
		b.logger.Error("marshal sync signal failed", slog.Any("error", err))
		return
	}
	if err := b.publisher.Publish(ctx, Channel, payload).Err(); err != nil {
		b.logger.Warn("publish sync signal failed", slog.Any("error", err))
	}
}

func (b *Bus) notifyLocal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			// 订阅者已有一个待处理信号，合并即可。
		}
	}
}

// Listen 订阅 Redis 频道并把其他进程的写入转发给本地订阅者。
// 阻塞直到 ctx 结束。
func (b *Bus) Listen(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	b.logger.Info("listening for card sync signals", slog.String("channel", Channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("sync pubsub channel closed")
				return
			}
			var sig Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				b.logger.Warn("decode sync signal failed", slog.Any("error", err))
				continue
			}
			if sig.Origin == b.origin {
				// 自己写入的回声，本地路径已经投递过。
				continue
			}
			b.notifyLocal()
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"egcards/internal/card"
	"egcards/internal/cardstore"
	"egcards/internal/syncbus"
	"egcards/internal/viewer"
	"egcards/internal/worker"
)

// WsHandler 是观看端的推送通道。带 card_id 的连接会挂一个观看会话：
// 首次连接即推送卡片快照，之后每个同步信号触发重新解析并推送最新快照，
// 同时转发该卡片的生成结果通知。不带 card_id 的连接只收集合变更信号。
// 连接是公开的，不做鉴权。
type WsHandler struct {
	store          *cardstore.Store
	bus            *syncbus.Bus
	redisClient    *redis.Client
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(
	store *cardstore.Store,
	bus *syncbus.Bus,
	redisClient *redis.Client,
	logger *slog.Logger,
	allowedOrigins []string,
) *WsHandler {
	h := &WsHandler{
		store:          store,
		bus:            bus,
		redisClient:    redisClient,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// cardStateMessage 是推给观看端的卡片快照。卡片未找到时省略 card，
// position 始终存在（兜底位置），前端不用判空。
type cardStateMessage struct {
	Type     string        `json:"type"`
	State    string        `json:"state"`
	Card     *card.Card    `json:"card,omitempty"`
	Position card.Position `json:"position"`
}

func snapshotPayload(snap viewer.Snapshot) ([]byte, error) {
	msg := cardStateMessage{
		Type:     "card_state",
		State:    snap.State.String(),
		Position: snap.Position,
	}
	if snap.State == viewer.StateFound {
		c := snap.Card
		msg.Card = &c
	}
	return json.Marshal(msg)
}

// HandleConnection 升级连接并启动读写循环。所有出站消息都经由
// 同一条队列由单个写循环发送（gorilla 连接不允许并发写）。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	cardID := strings.TrimSpace(c.Query("card_id"))
	log := h.logger.With(slog.String("client_ip", c.ClientIP()))
	if cardID != "" {
		log = log.With(slog.String("card_id", cardID))
	}

	out := make(chan []byte, 16)
	errCh := make(chan error, 3)

	go h.readLoop(ctx, conn, errCh, cancel)

	if cardID != "" {
		session := viewer.NewSession(ctx, h.store, h.bus, cardID, h.logger)
		if payload, err := snapshotPayload(session.Snapshot()); err != nil {
			log.Error("marshal card state failed", slog.Any("error", err))
		} else {
			enqueue(ctx, out, payload)
		}
		go session.Run(ctx, func(snap viewer.Snapshot) {
			payload, err := snapshotPayload(snap)
			if err != nil {
				log.Error("marshal card state failed", slog.Any("error", err))
				return
			}
			enqueue(ctx, out, payload)
		})
		go h.notifyLoop(ctx, cardID, out, errCh, cancel, log)
	} else {
		go h.syncLoop(ctx, out)
	}

	h.writeLoop(ctx, conn, out, errCh, cancel, log)
}

// readLoop 只用来检测客户端断开，收到的消息被丢弃。
func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	errCh chan<- error,
	cancel context.CancelFunc,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			writeClose(conn, websocket.CloseAbnormalClosure, "read error")
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func enqueue(ctx context.Context, out chan<- []byte, payload []byte) {
	select {
	case out <- payload:
	case <-ctx.Done():
	}
}

// syncLoop 把同步信号转成集合变更消息。信号本身不带载荷，
// 客户端收到后自行重新加载。
func (h *WsHandler) syncLoop(ctx context.Context, out chan<- []byte) {
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			enqueue(ctx, out, []byte(`{"type":"cards_updated"}`))
		}
	}
}

// notifyLoop 转发该卡片的生成结果通知（成功或失败，含下载链接）。
func (h *WsHandler) notifyLoop(
	ctx context.Context,
	cardID string,
	out chan<- []byte,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	pubsub := h.redisClient.Subscribe(ctx, worker.CardNotifyChannel(cardID))
	defer pubsub.Close()

	log.Info("subscribed to generation notifications")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- fmt.Errorf("pubsub channel closed")
				cancel()
				return
			}
			enqueue(ctx, out, []byte(msg.Payload))
		}
	}
}

// writeLoop 是连接的唯一写入方：顺序发送队列中的消息并定期 ping。
func (h *WsHandler) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	out <-chan []byte,
	errCh chan error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				log.Info("websocket connection closed", slog.Any("error", err))
			} else {
				log.Info("websocket connection closed")
			}
			return
		case payload := <-out:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Info("websocket connection closed", slog.Any("error", fmt.Errorf("write message: %w", err)))
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				log.Info("websocket connection closed", slog.Any("error", fmt.Errorf("write ping: %w", err)))
				cancel()
				return
			}
		}
	}
}

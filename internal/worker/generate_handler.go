package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"egcards/internal/card"
	"egcards/internal/cardstore"
	"egcards/internal/database"
	"egcards/internal/errcode"
	"egcards/internal/render"
	"egcards/internal/storage"
	"egcards/internal/tasks"
)

const downloadURLTTL = 15 * time.Minute

// GenerateTaskHandler 负责消费卡片生成任务。
type GenerateTaskHandler struct {
	db          *gorm.DB
	store       *cardstore.Store
	storage     *storage.Client
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewGenerateTaskHandler 创建任务处理器。
func NewGenerateTaskHandler(
	db *gorm.DB,
	store *cardstore.Store,
	storage *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
) *GenerateTaskHandler {
	return &GenerateTaskHandler{
		db:          db,
		store:       store,
		storage:     storage,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
// 渲染始终读取 Card Store 的当前值：卡片在排队期间被撤下或删除时，
// 任务以 CardNotFound 结束，不进入重试。
func (h *GenerateTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.CardGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("card_id", payload.CardID),
		slog.Uint64("generation_id", uint64(payload.GenerationID)),
	)
	log.Info("Starting card generation task...")

	var generation database.Generation
	if err := h.db.WithContext(ctx).First(&generation, payload.GenerationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("generation record not found, skipping task")
			return nil
		}
		log.Error("query generation failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		h.markFailed(ctx, &generation, retErr.Error())
		notify := CardGenerationNotifyMessage{
			Status:        "error",
			CardID:        payload.CardID,
			GenerationID:  generation.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishCardGenerationNotify(ctx, payload.CardID, notify); err != nil {
			log.Error("publish generation error notification failed", slog.Any("error", err))
		}
	}()

	current, err := h.store.Find(ctx, payload.CardID)
	if err != nil {
		if errors.Is(err, card.ErrNotFound) {
			log.Warn("card no longer published, aborting generation")
			h.markFailed(ctx, &generation, "card no longer published")
			notify := CardGenerationNotifyMessage{
				Status:        "error",
				CardID:        payload.CardID,
				GenerationID:  generation.ID,
				CorrelationID: payload.CorrelationID,
				ErrorCode:     errcode.CardNotFound,
				ErrorMessage:  "卡片已被撤下或删除",
			}
			if pubErr := h.publishCardGenerationNotify(ctx, payload.CardID, notify); pubErr != nil {
				log.Error("publish card-not-found notification failed", slog.Any("error", pubErr))
			}
			return nil
		}
		log.Error("load card failed", slog.Any("error", err))
		return err
	}

	html, err := BuildCardHTML(current, payload.VisitorName)
	if err != nil {
		log.Error("build card html failed", slog.Any("error", err))
		return err
	}

	pngBytes, err := render.RenderPNGFromHTML(html, int(card.CanvasWidth), int(card.CanvasHeight), card.ExportScale)
	if err != nil {
		log.Error("render card png failed", slog.Any("error", err))
		return fmt.Errorf("render card png: %w", err)
	}

	objectKey := fmt.Sprintf("%s/%s/%s.png", storage.GeneratedPrefix, current.ID, uuid.NewString())
	reader := bytes.NewReader(pngBytes)
	if _, err := h.storage.UploadFile(ctx, objectKey, reader, int64(len(pngBytes)), "image/png"); err != nil {
		log.Error("upload card png to minio failed", slog.Any("error", err))
		return err
	}

	update := map[string]any{
		"object_key": objectKey,
		"status":     database.GenerationCompleted,
	}
	if err := h.db.WithContext(ctx).Model(&generation).Updates(update).Error; err != nil {
		log.Error("update generation failed", slog.Any("error", err))
		return err
	}

	downloadURL, err := h.presignDownload(ctx, objectKey, current.ID, payload.VisitorName)
	if err != nil {
		log.Error("presign download url failed", slog.Any("error", err))
		return err
	}

	notify := CardGenerationNotifyMessage{
		Status:        "completed",
		CardID:        current.ID,
		GenerationID:  generation.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
		DownloadURL:   downloadURL,
	}
	if err := h.publishCardGenerationNotify(ctx, current.ID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Card generation task completed successfully.")
	return nil
}

// presignDownload 签发限时下载链接，并通过 response-content-disposition
// 指定 "<卡片 id>-<访客名>.png" 形式的下载文件名。
func (h *GenerateTaskHandler) presignDownload(ctx context.Context, objectKey, cardID, visitorName string) (string, error) {
	params := map[string]string{
		"response-content-disposition": fmt.Sprintf("attachment; filename=%q", DownloadFileName(cardID, visitorName)),
	}
	return h.storage.GeneratePresignedURLWithParams(ctx, objectKey, downloadURLTTL, params)
}

// DownloadFileName 拼出生成结果的下载文件名："<卡片 id>-<访客名>.png"。
func DownloadFileName(cardID, visitorName string) string {
	return fmt.Sprintf("%s-%s.png", cardID, sanitizeFileNamePart(visitorName))
}

func (h *GenerateTaskHandler) markFailed(ctx context.Context, generation *database.Generation, message string) {
	update := map[string]any{
		"status":        database.GenerationFailed,
		"error_message": truncate(message, 512),
	}
	if err := h.db.WithContext(ctx).Model(generation).Updates(update).Error; err != nil {
		h.logger.Error("mark generation failed", slog.Any("error", err))
	}
}

func (h *GenerateTaskHandler) publishCardGenerationNotify(ctx context.Context, cardID string, notify CardGenerationNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := CardNotifyChannel(cardID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

// CardNotifyChannel 返回某张卡片的生成结果通知频道名。
func CardNotifyChannel(cardID string) string {
	return fmt.Sprintf("card_notify:%s", cardID)
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

func sanitizeFileNamePart(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return "visitor"
	}
	return truncate(out, 30)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

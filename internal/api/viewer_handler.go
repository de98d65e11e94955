package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"egcards/internal/api/middleware"
	"egcards/internal/card"
	"egcards/internal/cardstore"
	"egcards/internal/database"
	"egcards/internal/payment"
	"egcards/internal/storage"
	"egcards/internal/tasks"
	"egcards/internal/worker"
)

// ViewerHandler 负责观看侧：解析已发布卡片、付费生成与取回下载链接。
type ViewerHandler struct {
	db          *gorm.DB
	store       *cardstore.Store
	processor   payment.Processor
	asynqClient *asynq.Client
	redisClient *redis.Client
	storage     *storage.Client
	logger      *slog.Logger
}

// NewViewerHandler 构造 ViewerHandler。
func NewViewerHandler(
	db *gorm.DB,
	store *cardstore.Store,
	processor payment.Processor,
	asynqClient *asynq.Client,
	redisClient *redis.Client,
	storageClient *storage.Client,
	logger *slog.Logger,
) *ViewerHandler {
	return &ViewerHandler{
		db:          db,
		store:       store,
		processor:   processor,
		asynqClient: asynqClient,
		redisClient: redisClient,
		storage:     storageClient,
		logger:      logger,
	}
}

type viewerCardResponse struct {
	Card     card.Card     `json:"card"`
	Position card.Position `json:"position"`
}

// GetCard 解析一张已发布卡片。未发布或不存在返回 404，
// 观看端据此进入"未找到"状态。
func (h *ViewerHandler) GetCard(c *gin.Context) {
	found, err := h.store.Find(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, card.ErrNotFound) {
			NotFound(c, "card not found")
			return
		}
		Internal(c, "failed to resolve card")
		return
	}

	c.JSON(http.StatusOK, viewerCardResponse{
		Card:     found,
		Position: found.FieldPosition(),
	})
}

type generateCardRequest struct {
	VisitorName string `json:"visitor_name" binding:"required"`
}

const (
	generateRateLimit  = 10
	generateRateWindow = time.Minute
)

// GenerateCard 处理付费生成：校验访客名与卡片状态，完成（模拟）支付，
// 落一条生成记录并把渲染任务入队。渲染始终以 Card Store 的当前值为准。
func (h *ViewerHandler) GenerateCard(c *gin.Context) {
	address, ok := middleware.AddressFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req generateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	visitorName := strings.TrimSpace(req.VisitorName)
	if visitorName == "" {
		BadRequest(c, "visitor name is required")
		return
	}

	ctx := c.Request.Context()
	cardID := c.Param("id")
	log := h.logger.With(
		slog.String("card_id", cardID),
		slog.String("address", address),
	)

	rateKey := fmt.Sprintf("rate:generate:%s", address)
	count, err := incrWithTTL(ctx, h.redisClient, rateKey, generateRateWindow)
	if err != nil {
		log.Warn("generate rate limiter unavailable", slog.Any("error", err))
	} else if count > generateRateLimit {
		Error(c, http.StatusTooManyRequests, "too many generation requests")
		return
	}

	current, err := h.store.Find(ctx, cardID)
	if err != nil {
		if errors.Is(err, card.ErrNotFound) {
			NotFound(c, "card not found")
			return
		}
		Internal(c, "failed to resolve card")
		return
	}

	correlationID := middleware.GetCorrelationID(c)

	if _, err := h.processor.AttemptPayment(ctx, payment.Request{
		Address:       address,
		CardID:        cardID,
		CorrelationID: correlationID,
	}); err != nil {
		// 支付失败不入队：访客可以直接重试。
		log.Warn("payment attempt failed", slog.Any("error", err))
		Error(c, http.StatusPaymentRequired, "payment failed, please try again")
		return
	}

	snapshot, err := json.Marshal(current)
	if err != nil {
		Internal(c, "failed to snapshot card")
		return
	}

	generation := database.Generation{
		CardID:        cardID,
		VisitorName:   visitorName,
		Address:       address,
		Snapshot:      datatypes.JSON(snapshot),
		Status:        database.GenerationPending,
		CorrelationID: correlationID,
	}
	if err := h.db.WithContext(ctx).Create(&generation).Error; err != nil {
		log.Error("create generation record failed", slog.Any("error", err))
		Internal(c, "failed to record generation")
		return
	}

	task, err := tasks.NewCardGenerateTask(generation.ID, cardID, visitorName, correlationID)
	if err != nil {
		Internal(c, "failed to create task")
		return
	}

	info, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(3))
	if err != nil {
		log.Error("enqueue generation task failed", slog.Any("error", err))
		Internal(c, "failed to enqueue generation")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":        "card generation request accepted",
		"generation_id":  generation.ID,
		"task_id":        info.ID,
		"correlation_id": correlationID,
	})
}

// GetDownloadLink 返回已完成生成结果的预签名下载链接，
// 文件名为 "<卡片 id>-<访客名>.png"。
func (h *ViewerHandler) GetDownloadLink(c *gin.Context) {
	address, ok := middleware.AddressFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	generationID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid generation id")
		return
	}

	ctx := c.Request.Context()
	var generation database.Generation
	if err := h.db.WithContext(ctx).First(&generation, uint(generationID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "generation not found")
			return
		}
		Internal(c, "failed to query generation")
		return
	}

	if generation.Address != address {
		Forbidden(c, "access denied")
		return
	}
	if generation.Status != database.GenerationCompleted || generation.ObjectKey == "" {
		Conflict(c, "generation not ready")
		return
	}

	params := map[string]string{
		"response-content-disposition": fmt.Sprintf(
			"attachment; filename=%q",
			worker.DownloadFileName(generation.CardID, generation.VisitorName),
		),
	}
	signedURL, err := h.storage.GeneratePresignedURLWithParams(ctx, generation.ObjectKey, 5*time.Minute, params)
	if err != nil {
		h.logger.Error("presign download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

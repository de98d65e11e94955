package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"egcards/internal/api/middleware"
	"egcards/internal/card"
	"egcards/internal/editor"
	"egcards/internal/storage"
)

// 模板图预签名链接的有效期。过期后创作者重新上传即可，
// 已生成的 PNG 不受影响。
const templateURLTTL = 7 * 24 * time.Hour

// EditorHandler 负责创作者侧的全部操作：模板上传、文本域放置与移动、
// 发布 / 撤下 / 删除、以及复制卡片链接。
type EditorHandler struct {
	sessions  *editor.Manager
	storage   *storage.Client
	logger    *slog.Logger
	clamdAddr string
}

// NewEditorHandler 构造 EditorHandler。
func NewEditorHandler(sessions *editor.Manager, storageClient *storage.Client, logger *slog.Logger, clamdAddr string) *EditorHandler {
	return &EditorHandler{
		sessions:  sessions,
		storage:   storageClient,
		logger:    logger,
		clamdAddr: clamdAddr,
	}
}

func (h *EditorHandler) session(c *gin.Context) (*editor.Session, bool) {
	address, ok := middleware.AddressFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	return h.sessions.Session(c.Request.Context(), address), true
}

// UploadCard 接收模板图（SVG/PNG），扫描病毒后存入 MinIO，
// 并在工作集中创建一张未发布卡片。
func (h *EditorHandler) UploadCard(c *gin.Context) {
	address, ok := middleware.AddressFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".svg" && ext != ".png" {
		BadRequest(c, "only svg and png templates are supported")
		return
	}

	clamdClient := clamd.NewClamd(h.clamdAddr)

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		h.logger.Error("scan file", slog.String("error", err.Error()))
		Internal(c, "failed to scan file")
		return
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	fileReader, err = file.Open()
	if err != nil {
		Internal(c, "failed to reopen file")
		return
	}
	defer fileReader.Close()

	objectKey := fmt.Sprintf("%s/%s/%s%s", storage.TemplatePrefix, address, uuid.NewString(), ext)
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx := c.Request.Context()
	if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
		h.logger.Error("upload template failed", slog.String("error", err.Error()))
		Internal(c, "failed to upload template")
		return
	}

	templateURL, err := h.storage.GeneratePresignedURL(ctx, objectKey, templateURLTTL)
	if err != nil {
		h.logger.Error("presign template url failed", slog.String("error", err.Error()))
		Internal(c, "failed to generate template url")
		return
	}

	session := h.sessions.Session(ctx, address)
	created, err := session.Upload(file.Filename, templateURL)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusCreated, created)
}

// ListCards 返回工作集中的全部卡片（草稿与已发布）。
func (h *EditorHandler) ListCards(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": session.Cards()})
}

type placeFieldRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlaceField 按画布点击点放置文本域。槽位已占用返回 409。
func (h *EditorHandler) PlaceField(c *gin.Context) {
	var req placeFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	field, err := session.PlaceField(req.X, req.Y)
	if err != nil {
		if errors.Is(err, card.ErrFieldAlreadyPlaced) {
			Conflict(c, "text field already placed")
			return
		}
		Internal(c, "failed to place field")
		return
	}
	c.JSON(http.StatusCreated, field)
}

type moveFieldRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// MoveField 按增量移动文本域。没有已放置的文本域返回 409。
// 位置会收敛到画布范围内，已发布卡片上的文本域实时跟随。
func (h *EditorHandler) MoveField(c *gin.Context) {
	var req moveFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	field, err := session.MoveField(c.Request.Context(), req.DX, req.DY)
	if err != nil {
		if errors.Is(err, card.ErrNoFieldPlaced) {
			Conflict(c, "no text field placed")
			return
		}
		h.logger.Error("persist moved field failed", slog.Any("error", err))
		Internal(c, "failed to persist field position")
		return
	}
	c.JSON(http.StatusOK, field)
}

// GetField 返回槽位中的文本域，未放置返回 404。
func (h *EditorHandler) GetField(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	field, placed := session.Field()
	if !placed {
		NotFound(c, "no text field placed")
		return
	}
	c.JSON(http.StatusOK, field)
}

// ClearField 清空编辑槽位。重复调用无害。
func (h *EditorHandler) ClearField(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	session.ClearField()
	c.Status(http.StatusNoContent)
}

// PublishCard 发布卡片并附带当前文本域。
func (h *EditorHandler) PublishCard(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	published, err := session.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondCardError(c, err, "failed to publish card")
		return
	}
	c.JSON(http.StatusOK, published)
}

// UnpublishCard 撤下卡片。卡片留在工作集里，观看端将看到"未找到"。
func (h *EditorHandler) UnpublishCard(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	unpublished, err := session.Unpublish(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondCardError(c, err, "failed to unpublish card")
		return
	}
	c.JSON(http.StatusOK, unpublished)
}

// DeleteCard 删除卡片并清理其生成结果。
func (h *EditorHandler) DeleteCard(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	cardID := c.Param("id")
	ctx := c.Request.Context()
	if err := session.Delete(ctx, cardID); err != nil {
		h.respondCardError(c, err, "failed to delete card")
		return
	}

	prefix := fmt.Sprintf("%s/%s/", storage.GeneratedPrefix, cardID)
	if err := h.storage.DeletePrefix(ctx, prefix); err != nil {
		// 卡片已经删除成功，遗留对象交给后续清理。
		h.logger.Warn("cleanup generated objects failed",
			slog.String("card_id", cardID),
			slog.Any("error", err),
		)
	}

	c.Status(http.StatusNoContent)
}

// GetCardLink 返回卡片的绝对访问地址（复制链接用）。
func (h *EditorHandler) GetCardLink(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	link, err := session.CardURL(c.Param("id"))
	if err != nil {
		h.respondCardError(c, err, "failed to build card link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": link})
}

func (h *EditorHandler) respondCardError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, editor.ErrCardNotFound) {
		NotFound(c, "card not found")
		return
	}
	h.logger.Error(fallback, slog.Any("error", err))
	Internal(c, fallback)
}

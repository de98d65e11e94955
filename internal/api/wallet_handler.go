package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"egcards/internal/wallet"
)

// WalletHandler 负责钱包连接：校验地址并签发会话令牌。
type WalletHandler struct {
	walletService *wallet.Service
	redisClient   *redis.Client
	logger        *slog.Logger
}

// NewWalletHandler 构造 WalletHandler。
func NewWalletHandler(walletService *wallet.Service, redisClient *redis.Client, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		redisClient:   redisClient,
		logger:        logger,
	}
}

type connectWalletRequest struct {
	Address string `json:"address" binding:"required"`
}

const (
	connectRateLimit  = 20
	connectRateWindow = time.Minute
)

// Connect 处理 POST /wallet/connect。地址校验失败返回 400，
// 成功则返回规范化地址与会话令牌。
func (h *WalletHandler) Connect(c *gin.Context) {
	var req connectWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	rateKey := fmt.Sprintf("rate:wallet_connect:%s", c.ClientIP())
	count, err := incrWithTTL(ctx, h.redisClient, rateKey, connectRateWindow)
	if err != nil {
		h.logger.Warn("wallet connect rate limiter unavailable", slog.Any("error", err))
	} else if count > connectRateLimit {
		Error(c, http.StatusTooManyRequests, "too many connection attempts")
		return
	}

	address, token, err := h.walletService.Connect(req.Address)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidAddress) {
			BadRequest(c, "invalid wallet address")
			return
		}
		h.logger.Error("sign wallet session failed", slog.Any("error", err))
		Internal(c, "failed to establish wallet session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":    address,
		"token":      token,
		"expires_in": int(h.walletService.SessionTTL().Seconds()),
	})
}

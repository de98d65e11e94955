package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"egcards/internal/api/middleware"
	"egcards/internal/cardstore"
	"egcards/internal/editor"
	"egcards/internal/payment"
	"egcards/internal/storage"
	"egcards/internal/syncbus"
	"egcards/internal/wallet"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	asynqClient *asynq.Client,
	walletService *wallet.Service,
	store *cardstore.Store,
	bus *syncbus.Bus,
	sessions *editor.Manager,
	processor payment.Processor,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	clamdAddr string,
	allowedOrigins []string,
) {
	walletHandler := NewWalletHandler(walletService, redisClient, logger)
	editorHandler := NewEditorHandler(sessions, storageClient, logger, clamdAddr)
	viewerHandler := NewViewerHandler(db, store, processor, asynqClient, redisClient, storageClient, logger)
	wsHandler := NewWsHandler(store, bus, redisClient, logger, allowedOrigins)
	walletAuth := middleware.WalletAuth(walletService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		v1.POST("/wallet/connect", walletHandler.Connect)

		editorGroup := v1.Group("/editor")
		editorGroup.Use(walletAuth)
		{
			editorGroup.POST("/cards", editorHandler.UploadCard)
			editorGroup.GET("/cards", editorHandler.ListCards)
			editorGroup.POST("/cards/:id/publish", editorHandler.PublishCard)
			editorGroup.POST("/cards/:id/unpublish", editorHandler.UnpublishCard)
			editorGroup.DELETE("/cards/:id", editorHandler.DeleteCard)
			editorGroup.GET("/cards/:id/link", editorHandler.GetCardLink)

			editorGroup.POST("/field", editorHandler.PlaceField)
			editorGroup.GET("/field", editorHandler.GetField)
			editorGroup.PATCH("/field", editorHandler.MoveField)
			editorGroup.DELETE("/field", editorHandler.ClearField)
		}

		cardGroup := v1.Group("/cards")
		{
			cardGroup.GET("/:id", viewerHandler.GetCard)
			cardGroup.POST("/:id/generate", walletAuth, viewerHandler.GenerateCard)
		}

		v1.GET("/generations/:id/download-link", walletAuth, viewerHandler.GetDownloadLink)
	}
}

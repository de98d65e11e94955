package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"egcards/internal/api/middleware"
	"egcards/internal/config"
	"egcards/internal/metrics"
)

// defaultCardID 是兜底卡片：未知路径一律重定向到它的观看地址。
const defaultCardID = "egcard1"

// NewRouter 构建 Gin 路由引擎：关联 ID、结构化日志与指标采集，
// 外加健康检查和未知路径兜底。
func NewRouter(_ *config.Config, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
		gin.Recovery(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 未知路径重定向到兜底卡片，观看端自行解析其存在性。
	router.NoRoute(func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/v1/cards/"+defaultCardID)
	})

	return router
}

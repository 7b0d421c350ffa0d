package api

import (
	"github.com/azin/mediacache-service/internal/api/handlers"
	"github.com/azin/mediacache-service/internal/api/middleware"
	"github.com/azin/mediacache-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers 路由需要的处理器
type Handlers struct {
	Media   *handlers.MediaHandler
	Jobs    *handlers.JobHandler
	Setting *handlers.SettingHandler
	Cache   *handlers.CacheHandler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, h Handlers, log *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Metrics())

	// 健康检查（无需认证）
	r.GET("/healthz", h.Jobs.Health)
	r.GET("/readyz", h.Jobs.Health)

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// 管理接口
	v1 := r.Group("/v1")
	v1.Use(middleware.Auth(&cfg.Security))
	{
		v1.GET("/jobs", h.Jobs.List)
		v1.GET("/jobs/:kind/:id", h.Jobs.Get)
		v1.GET("/queue", h.Jobs.Queue)
		v1.POST("/prefetch", h.Jobs.Prefetch)

		v1.GET("/cache", h.Cache.Stats)
		v1.DELETE("/cache/:kind/:id", h.Cache.Evict)

		v1.GET("/errcodes", h.Jobs.ErrCodes)
		v1.GET("/errcodes/:code", h.Jobs.ErrCode)

		v1.GET("/settings/:guildId", h.Setting.Get)
		v1.PUT("/settings/:guildId", h.Setting.Put)
		v1.DELETE("/settings/:guildId", h.Setting.Delete)
	}

	// 媒体接口：/{service}/{id}/{audio|json}
	r.GET("/:service/:id/:format", h.Media.Serve)
	r.NoRoute(handlers.BadRequest)

	return r
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pipeline/internal/api/middleware"
	"pipeline/internal/auth"
	"pipeline/internal/config"
	"pipeline/internal/metrics"
	"pipeline/internal/notify"
	"pipeline/internal/storage"
)

// Dependencies 汇总构建路由所需的外部资源。
// Redis、Queue、Storage、Scanner 均可为空，对应功能降级或返回 503。
type Dependencies struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Queue    notify.Enqueuer
	Auth     *auth.AuthService
	Storage  storage.ObjectStore
	Scanner  DocumentScanner
	Logger   *slog.Logger
	Location *time.Location
	Now      func() time.Time
}

// NewRouter 构建 Gin 路由引擎。ctx 结束时限流器的清理协程随之退出。
func NewRouter(ctx context.Context, deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(deps.Logger),
		metrics.GinMiddleware(),
		cors.New(corsConfig(deps.Config.API.CORSOrigins)),
	)

	router.GET("/health", healthHandler(deps.DB, deps.Redis))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	var limiter *middleware.IPRateLimiter
	if rps := deps.Config.API.RateLimitPerSecond; rps > 0 {
		limiter = middleware.NewIPRateLimiter(middleware.RateLimiterConfig{RequestsPerSecond: rps})
		go limiter.Run(ctx)
	}

	RegisterRoutes(router, deps, limiter)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		// cors 拒绝空白名单配置，未配置时不放行任何跨域请求。
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	cfg.AllowCredentials = true
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", timezoneHeader, middleware.CorrelationIDHeader}
	cfg.ExposeHeaders = []string{middleware.CorrelationIDHeader}
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

// healthHandler 检查数据库与 Redis 连通性，Redis 未配置时报告 disabled。
func healthHandler(db *gorm.DB, redisClient redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{"status": "ok", "database": "ok", "redis": "disabled"}

		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unavailable"
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["redis"] = "unavailable"
			} else {
				body["redis"] = "ok"
			}
		}
		c.JSON(status, body)
	}
}

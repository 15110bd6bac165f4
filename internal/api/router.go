package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/framelab-backend/internal/config"
	"github.com/jengzang/framelab-backend/internal/handler"
	"github.com/jengzang/framelab-backend/internal/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Studio     *handler.StudioHandler
	Generation *handler.GenerationHandler
	Animations *handler.AnimationHandler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, h Handlers, limiter *middleware.RateLimiter, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger))

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Framelab Backend API is running",
		})
	})

	api := r.Group("/api/v1")

	// 只读接口
	api.GET("/state", h.Studio.GetState)
	api.GET("/frames/:index", h.Studio.GetFrame)
	api.GET("/export", h.Studio.Export)
	api.GET("/generation/:kind", h.Generation.GetStatus)
	api.GET("/jobs", h.Generation.ListJobs)
	api.GET("/jobs/:id", h.Generation.GetJob)
	api.GET("/animations", h.Animations.ListAnimations)
	api.GET("/animations/:id", h.Animations.GetAnimation)

	// 写接口, 配置 JWT_SECRET 时需要鉴权
	write := api.Group("", middleware.Auth(cfg.JWTSecret))
	{
		// 时间轴
		write.PUT("/frames", h.Studio.LoadFrames)
		write.PUT("/frames/:index", h.Studio.SetFrame)
		write.PUT("/frames/:index/image", h.Studio.SetFrameImage)
		write.PUT("/frames/:index/pose-image", h.Studio.SetPoseImage)
		write.POST("/frames/:index/translate", h.Studio.TranslateFrame)
		write.POST("/frames/:index/rotate", h.Studio.RotateJoint)
		write.POST("/frames/:index/drag", h.Studio.BeginDrag)
		write.PUT("/drag", h.Studio.DragTo)
		write.DELETE("/drag", h.Studio.EndDrag)

		cursor := write.Group("/cursor")
		{
			cursor.PUT("", h.Studio.SetCursor)
			cursor.POST("/add", h.Studio.AddFrame)
			cursor.POST("/duplicate", h.Studio.DuplicateFrame)
			cursor.DELETE("/frame", h.Studio.DeleteFrame)
			cursor.POST("/copy", h.Studio.CopyPose)
			cursor.POST("/paste", h.Studio.PastePose)
		}

		// 播放与设置
		write.POST("/playback/toggle", h.Studio.TogglePlayback)
		write.PUT("/playback", h.Studio.SetPlayback)
		write.PUT("/settings", h.Studio.UpdateSettings)
		write.PUT("/reference", h.Studio.SetReference)
		write.PUT("/stage", h.Studio.SetStage)
		write.POST("/stage/recenter", h.Studio.Recenter)
		write.POST("/previews", h.Studio.RefreshPreviews)
		write.POST("/import", h.Studio.Import)

		// 生成任务
		generation := write.Group("/generation")
		{
			generation.POST("/:kind", middleware.RateLimit(limiter), h.Generation.Start)
			generation.POST("/:kind/cancel", h.Generation.Cancel)
			generation.POST("/:kind/reset", h.Generation.Reset)
		}
		write.POST("/webhooks/jobs", h.Generation.JobWebhook)

		// 动画库
		write.POST("/animations", h.Animations.SaveAnimation)
		write.POST("/animations/:id/load", h.Animations.LoadAnimation)
		write.DELETE("/animations/:id", h.Animations.DeleteAnimation)
	}

	return r
}

package handler

import (
	"inboxai/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, assistant service.Assistant) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, assistant)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 积分相关
		credits := api.Group("/credits")
		{
			credits.GET("/balance", h.GetBalance)
			credits.POST("/grant", h.Grant)
			credits.GET("/transactions", h.ListTransactions)
			credits.POST("/tier", h.AssignTier)
			credits.GET("/reconcile", h.Reconcile)
		}

		// 计费动作相关
		actions := api.Group("/actions")
		{
			actions.POST("/classify", h.ClassifyEmail)
			actions.POST("/draft", h.DraftResponse)
			actions.POST("/research", h.ResearchSender)
			actions.POST("/workflow", h.RunWorkflow)
		}

		// 跟进相关
		followups := api.Group("/followups")
		{
			followups.POST("/create", h.CreateFollowUp)
			followups.POST("/cancel", h.CancelFollowUp)
		}

		// 摘要调度相关
		schedules := api.Group("/schedules")
		{
			schedules.POST("/create", h.CreateSchedule)
			schedules.POST("/deactivate", h.DeactivateSchedule)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

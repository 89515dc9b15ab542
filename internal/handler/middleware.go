package handler

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// gin 上下文里传给访问日志的键，各处理器负责写入
const (
	ctxKeyTenant      = "log_tenant"
	ctxKeyCreditsUsed = "log_credits_used"
)

// LoggerMiddleware 访问日志中间件
// 计费接口会把租户和本次扣减追加到日志行尾，排查扣费问题时直接按租户 grep
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		// 记录日志
		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		line := fmt.Sprintf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
		if tenant, ok := c.Get(ctxKeyTenant); ok {
			line += fmt.Sprintf(" | tenant=%v", tenant)
		}
		if used, ok := c.Get(ctxKeyCreditsUsed); ok {
			line += fmt.Sprintf(" | credits_used=%v", used)
		}
		log.Println(line)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

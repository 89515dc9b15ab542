package handler

import (
	"bytes"
	"log"
	"net/http/httptest"
	"testing"

	"inboxai/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 计费接口的访问日志要带上租户和本次扣减
func TestLoggerMiddlewareTenantFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	r := gin.New()
	r.Use(LoggerMiddleware())
	r.POST("/classify", func(c *gin.Context) {
		logTenant(c, "user-1", "org-1")
		logGate(c, &service.GateResult{CreditsUsed: 3, AvailableCredits: 397})
		c.JSON(200, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/classify", nil))

	require.Equal(t, 200, w.Code)
	line := buf.String()
	assert.Contains(t, line, "[HTTP] 200")
	assert.Contains(t, line, "/classify")
	assert.Contains(t, line, "tenant=user-1/org-1")
	assert.Contains(t, line, "credits_used=3")
}

// 不计费的请求日志里没有租户和扣减字段
func TestLoggerMiddlewarePlainRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	r := gin.New()
	r.Use(LoggerMiddleware())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health?v=1", nil))

	require.Equal(t, 200, w.Code)
	line := buf.String()
	assert.Contains(t, line, "/health?v=1")
	assert.NotContains(t, line, "tenant=")
	assert.NotContains(t, line, "credits_used=")
}

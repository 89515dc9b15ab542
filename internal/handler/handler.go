package handler

import (
	"errors"
	"strconv"
	"time"

	"inboxai/internal/model"
	"inboxai/internal/repository"
	"inboxai/internal/service"
	"inboxai/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	creditService   *service.CreditService
	actionService   *service.ActionService
	scheduleService *service.ScheduleService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, assistant service.Assistant) *Handler {
	creditService := service.NewCreditService(db)
	gate := service.NewGateService(creditService)
	return &Handler{
		creditService:   creditService,
		actionService:   service.NewActionService(db, gate, assistant),
		scheduleService: service.NewScheduleService(db),
	}
}

// logTenant 把租户挂到 gin 上下文，访问日志统一输出
func logTenant(c *gin.Context, userID, orgID string) {
	tenant := userID
	if orgID != "" {
		tenant += "/" + orgID
	}
	c.Set(ctxKeyTenant, tenant)
}

// logGate 把扣费结果挂到 gin 上下文，成功和"已扣费但动作失败"都要记
func logGate(c *gin.Context, gate *service.GateResult) {
	if gate != nil {
		c.Set(ctxKeyCreditsUsed, gate.CreditsUsed)
	}
}

// respondError 按错误类型映射业务码
// 【注意】扣费成功但动作失败的情况不走这里，那种响应必须带上已扣的积分
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrInsufficientCredits):
		response.BusinessError(c, response.CodeInsufficientCredits, err.Error())
	case errors.Is(err, repository.ErrBalanceNotFound):
		response.BusinessError(c, response.CodeBalanceNotFound, err.Error())
	case errors.Is(err, repository.ErrEmailNotFound):
		response.BusinessError(c, response.CodeEmailNotFound, err.Error())
	case errors.Is(err, repository.ErrWorkflowNotFound):
		response.BusinessError(c, response.CodeWorkflowNotFound, err.Error())
	case errors.Is(err, repository.ErrScheduleNotFound),
		errors.Is(err, repository.ErrFollowUpNotFound):
		response.BusinessError(c, response.CodeScheduleNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 积分相关接口
// ============================================================

// GetBalance 查询租户积分余额
// GET /api/v1/credits/balance?user_id=xxx&org_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	orgID := c.Query("org_id")
	if userID == "" || orgID == "" {
		response.ParamError(c, "user_id 和 org_id 不能为空")
		return
	}
	logTenant(c, userID, orgID)

	balance, err := h.creditService.GetBalance(c.Request.Context(), userID, orgID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":           balance.UserID,
		"org_id":            balance.OrgID,
		"subscription_tier": balance.SubscriptionTier,
		"total_credits":     balance.TotalCredits,
		"used_credits":      balance.UsedCredits,
		"available_credits": balance.AvailableCredits,
		"credits_reset_at":  balance.CreditsResetAt,
	})
}

// GrantRequest 加分请求（运营补偿、活动奖励等）
type GrantRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	OrgID       string `json:"org_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

// Grant 加分接口
// POST /api/v1/credits/grant
func (h *Handler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	logTenant(c, req.UserID, req.OrgID)

	balance, err := h.creditService.Grant(c.Request.Context(), req.UserID, req.OrgID, req.Amount, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"available_credits": balance.AvailableCredits,
	})
}

// ListTransactions 查询积分流水
// GET /api/v1/credits/transactions?user_id=xxx&org_id=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := c.Query("user_id")
	orgID := c.Query("org_id")
	if userID == "" || orgID == "" {
		response.ParamError(c, "user_id 和 org_id 不能为空")
		return
	}

	logTenant(c, userID, orgID)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	transactions, total, err := h.creditService.ListTransactions(c.Request.Context(), userID, orgID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"total": total,
		"list":  transactions,
	})
}

// AssignTierRequest 订阅档位变更请求
type AssignTierRequest struct {
	UserID string `json:"user_id" binding:"required"`
	OrgID  string `json:"org_id" binding:"required"`
	Tier   string `json:"tier" binding:"required"`
}

// AssignTier 变更订阅档位并按新档位发满月额度
// POST /api/v1/credits/tier
func (h *Handler) AssignTier(c *gin.Context) {
	var req AssignTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if _, ok := model.TierMonthlyCredits[req.Tier]; !ok {
		response.ParamError(c, "未知的订阅档位: "+req.Tier)
		return
	}

	logTenant(c, req.UserID, req.OrgID)

	balance, err := h.creditService.AssignTier(c.Request.Context(), req.UserID, req.OrgID, req.Tier)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"subscription_tier": balance.SubscriptionTier,
		"total_credits":     balance.TotalCredits,
		"available_credits": balance.AvailableCredits,
		"credits_reset_at":  balance.CreditsResetAt,
	})
}

// Reconcile 对账：流水累计是否等于已用额度
// GET /api/v1/credits/reconcile?user_id=xxx&org_id=xxx
func (h *Handler) Reconcile(c *gin.Context) {
	userID := c.Query("user_id")
	orgID := c.Query("org_id")
	if userID == "" || orgID == "" {
		response.ParamError(c, "user_id 和 org_id 不能为空")
		return
	}

	logTenant(c, userID, orgID)

	consistent, err := h.creditService.Reconcile(c.Request.Context(), userID, orgID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"consistent": consistent,
	})
}

// ============================================================
// 计费动作接口
// 成功与否都要把 gate 结果（扣了多少、还剩多少）回给调用方
// ============================================================

// ClassifyRequest 邮件分类请求
type ClassifyRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	EmailID int64  `json:"email_id" binding:"required"`
}

// ClassifyEmail 对一封邮件做 AI 分类
// POST /api/v1/actions/classify
func (h *Handler) ClassifyEmail(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	logTenant(c, req.UserID, "")

	result, err := h.actionService.ClassifyEmail(c.Request.Context(), req.UserID, req.EmailID)
	if result != nil {
		logGate(c, result.Gate)
	}
	if err != nil {
		// 已扣费但动作失败：费不退，响应里带上扣费信息
		if result != nil && result.Gate != nil {
			response.ErrorWithData(c, response.CodeActionFailed, err.Error(), gin.H{"gate": result.Gate})
			return
		}
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// DraftRequest 草拟回信请求
type DraftRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	EmailID  int64  `json:"email_id" binding:"required"`
	Tone     string `json:"tone"`
	LongForm bool   `json:"long_form"`
}

// DraftResponse 草拟回信（短 3 积分 / 长 7 积分）
// POST /api/v1/actions/draft
func (h *Handler) DraftResponse(c *gin.Context) {
	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Tone == "" {
		req.Tone = "professional"
	}

	logTenant(c, req.UserID, "")

	result, err := h.actionService.DraftResponse(c.Request.Context(), req.UserID, req.EmailID, req.Tone, req.LongForm)
	if result != nil {
		logGate(c, result.Gate)
	}
	if err != nil {
		if result != nil && result.Gate != nil {
			response.ErrorWithData(c, response.CodeActionFailed, err.Error(), gin.H{"gate": result.Gate})
			return
		}
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// ResearchRequest 发件人调研请求
type ResearchRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	OrgID        string `json:"org_id" binding:"required"`
	EmailAddress string `json:"email_address" binding:"required,email"`
	Deep         bool   `json:"deep"`
}

// ResearchSender 调研发件人（基础 2 / 深度 5，7 天缓存免费）
// POST /api/v1/actions/research
func (h *Handler) ResearchSender(c *gin.Context) {
	var req ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	logTenant(c, req.UserID, req.OrgID)

	result, err := h.actionService.ResearchSender(c.Request.Context(), req.UserID, req.OrgID, req.EmailAddress, req.Deep)
	if result != nil {
		logGate(c, result.Gate)
	}
	if err != nil {
		if result != nil && result.Gate != nil {
			response.ErrorWithData(c, response.CodeActionFailed, err.Error(), gin.H{"gate": result.Gate})
			return
		}
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// RunWorkflowRequest 工作流执行请求
type RunWorkflowRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	OrgID      string `json:"org_id" binding:"required"`
	WorkflowID int64  `json:"workflow_id" binding:"required"`
}

// RunWorkflow 执行一次工作流自动化
// POST /api/v1/actions/workflow
func (h *Handler) RunWorkflow(c *gin.Context) {
	var req RunWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	logTenant(c, req.UserID, req.OrgID)

	gateResult, err := h.actionService.RunWorkflow(c.Request.Context(), req.UserID, req.OrgID, req.WorkflowID)
	logGate(c, gateResult)
	if err != nil {
		if gateResult != nil {
			response.ErrorWithData(c, response.CodeActionFailed, err.Error(), gin.H{"gate": gateResult})
			return
		}
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"gate": gateResult})
}

// ============================================================
// 跟进相关接口
// ============================================================

// CreateFollowUpRequest 创建跟进请求
type CreateFollowUpRequest struct {
	UserID          string    `json:"user_id" binding:"required"`
	EmailID         int64     `json:"email_id" binding:"required"`
	ScheduledTime   time.Time `json:"scheduled_time" binding:"required"`
	FollowUpType    string    `json:"follow_up_type"`
	TemplateMessage string    `json:"template_message"`
}

// CreateFollowUp 创建跟进提醒（1 积分）
// POST /api/v1/followups/create
func (h *Handler) CreateFollowUp(c *gin.Context) {
	var req CreateFollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.FollowUpType == "" {
		req.FollowUpType = model.FollowUpTypeReminder
	}

	logTenant(c, req.UserID, "")

	result, err := h.actionService.CreateFollowUp(c.Request.Context(), req.UserID, req.EmailID,
		req.ScheduledTime, req.FollowUpType, req.TemplateMessage)
	if result != nil {
		logGate(c, result.Gate)
	}
	if err != nil {
		if result != nil && result.Gate != nil {
			response.ErrorWithData(c, response.CodeActionFailed, err.Error(), gin.H{"gate": result.Gate})
			return
		}
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// CancelFollowUpRequest 取消跟进请求
type CancelFollowUpRequest struct {
	FollowUpNo string `json:"follow_up_no" binding:"required"`
	Reason     string `json:"reason"`
}

// CancelFollowUp 取消一条跟进（取消不退积分）
// POST /api/v1/followups/cancel
func (h *Handler) CancelFollowUp(c *gin.Context) {
	var req CancelFollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.scheduleService.CancelFollowUp(c.Request.Context(), req.FollowUpNo, req.Reason); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "已取消"})
}

// ============================================================
// 摘要调度接口
// ============================================================

// CreateScheduleRequest 创建摘要调度请求
type CreateScheduleRequest struct {
	AgentID      string `json:"agent_id" binding:"required"`
	UserID       string `json:"user_id" binding:"required"`
	OrgID        string `json:"org_id" binding:"required"`
	Recipient    string `json:"recipient" binding:"required,email"`
	ScheduleTime string `json:"schedule_time" binding:"required"` // HH:MM
	Timezone     string `json:"timezone"`
}

// CreateSchedule 创建每日摘要调度
// POST /api/v1/schedules/create
func (h *Handler) CreateSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	schedule, err := h.scheduleService.CreateSchedule(c.Request.Context(), &service.CreateScheduleRequest{
		AgentID:      req.AgentID,
		UserID:       req.UserID,
		OrgID:        req.OrgID,
		Recipient:    req.Recipient,
		ScheduleTime: req.ScheduleTime,
		Timezone:     req.Timezone,
	})
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	response.Success(c, schedule)
}

// DeactivateSchedule 停用摘要调度
// POST /api/v1/schedules/deactivate
func (h *Handler) DeactivateSchedule(c *gin.Context) {
	var req struct {
		ScheduleID int64 `json:"schedule_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.scheduleService.DeactivateSchedule(c.Request.Context(), req.ScheduleID); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "已停用"})
}

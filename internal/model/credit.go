package model

import (
	"time"

	"gorm.io/datatypes"
)

// ============================================================================
// 订阅档位与动作价格
// ============================================================================

const (
	TierFree     = "free"
	TierPro      = "pro"
	TierBusiness = "business"
)

// TierMonthlyCredits 档位 -> 每月积分额度
// 静态表，修改额度只在下一次月度重置时生效，不追溯
var TierMonthlyCredits = map[string]int64{
	TierFree:     400,
	TierPro:      5000,
	TierBusiness: 30000,
}

const (
	ActionEmailClassification = "email_classification"
	ActionEmailDraftShort     = "email_draft_short"
	ActionEmailDraftLong      = "email_draft_long"
	ActionResearchBasic       = "sender_research_basic"
	ActionResearchDeep        = "sender_research_deep"
	ActionFollowUpSchedule    = "follow_up_schedule"
	ActionWorkflowRun         = "workflow_execution"
	ActionMonthlyReset        = "monthly_reset"
)

// CreditCosts 动作类型 -> 消耗积分数
// 部署时固定，所有计费入口都从这张表取价，不允许调用方自报价格
var CreditCosts = map[string]int64{
	ActionEmailClassification: 1,
	ActionEmailDraftShort:     3,
	ActionEmailDraftLong:      7,
	ActionResearchBasic:       2,
	ActionResearchDeep:        5,
	ActionFollowUpSchedule:    1,
	ActionWorkflowRun:         2,
}

// ============================================================================
// 积分账户
// ============================================================================

// CreditBalance 积分账户表
// 以 (user_id, org_id) 为租户维度，每个租户有且仅有一行
//
// 【重要】不变量：available_credits == total_credits - used_credits 恒成立，
// 且 available_credits >= 0。所有变更必须走 CreditRepository 的原子操作，
// 禁止读出来改完再写回
type CreditBalance struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string    `gorm:"type:varchar(36);uniqueIndex:uk_user_org;not null" json:"user_id"`
	OrgID            string    `gorm:"type:varchar(36);uniqueIndex:uk_user_org;not null" json:"org_id"`
	TotalCredits     int64     `gorm:"not null;default:0" json:"total_credits"`     // 本周期累计发放
	UsedCredits      int64     `gorm:"not null;default:0" json:"used_credits"`      // 本周期累计消耗
	AvailableCredits int64     `gorm:"not null;default:0" json:"available_credits"` // 可用积分（冗余存储，用于原子比较）
	SubscriptionTier string    `gorm:"type:varchar(20);not null;default:free" json:"subscription_tier"`
	CreditsResetAt   time.Time `gorm:"not null" json:"credits_reset_at"` // 下次月度重置时间
	Version          int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "user_credits"
}

// ============================================================================
// 积分流水
// ============================================================================

// CreditTransaction 积分流水表
// 记录每一次积分变动，是对账的最终依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. credits_used 正数表示扣减，负数表示发放
// 3. 记录变动前后可用积分 —— 便于校验余额一致性
type CreditTransaction struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo   string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID          string         `gorm:"type:varchar(36);index:idx_tenant;not null" json:"user_id"`
	OrgID           string         `gorm:"type:varchar(36);index:idx_tenant;not null" json:"org_id"`
	ActionType      string         `gorm:"type:varchar(40);not null" json:"action_type"` // 动作类型，如 email_classification
	CreditsUsed     int64          `gorm:"not null" json:"credits_used"`                 // 正数扣减，负数发放
	Description     string         `gorm:"type:varchar(256)" json:"description"`
	Metadata        datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	BalanceBefore   int64          `gorm:"not null" json:"balance_before"` // 变动前可用积分
	BalanceAfter    int64          `gorm:"not null" json:"balance_after"`  // 变动后可用积分
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

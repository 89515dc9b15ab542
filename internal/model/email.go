package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	EmailCategoryUrgent  = "urgent"
	EmailCategoryFYI     = "fyi"
	EmailCategoryArchive = "archive"
)

// EmailAccount 租户绑定的邮箱账号
// refresh_token 用于后台定时拉信，token 失效会导致拉取持续失败，
// 由调度器的重试上限兜底
type EmailAccount struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string    `gorm:"type:varchar(36);uniqueIndex:uk_user_email;not null" json:"user_id"`
	OrgID        string    `gorm:"type:varchar(36);not null" json:"org_id"`
	EmailAddress string    `gorm:"type:varchar(256);uniqueIndex:uk_user_email;not null" json:"email_address"`
	RefreshToken string    `gorm:"type:varchar(512);not null" json:"-"`
	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EmailAccount) TableName() string {
	return "email_accounts"
}

// Email 已拉取的邮件
// gmail_message_id 在用户维度去重，保证同一封信不会重复入库、重复计费
type Email struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string     `gorm:"type:varchar(36);uniqueIndex:uk_user_msg;not null" json:"user_id"`
	OrgID          string     `gorm:"type:varchar(36);not null" json:"org_id"`
	GmailMessageID string     `gorm:"type:varchar(64);uniqueIndex:uk_user_msg;not null" json:"gmail_message_id"`
	GmailThreadID  string     `gorm:"type:varchar(64)" json:"gmail_thread_id"`
	Subject        string     `gorm:"type:varchar(512)" json:"subject"`
	FromEmail      string     `gorm:"type:varchar(256);not null" json:"from_email"`
	ToEmail        string     `gorm:"type:varchar(256)" json:"to_email"`
	BodyPlain      string     `gorm:"type:text" json:"body_plain"`
	Category       string     `gorm:"type:varchar(20);index" json:"category"` // AI 分类结果，未分类为空
	ActionRequired bool       `gorm:"not null;default:false" json:"action_required"`
	ClassifiedAt   *time.Time `json:"classified_at"`
	ReceivedAt     time.Time  `gorm:"not null;index" json:"received_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Email) TableName() string {
	return "emails"
}

// SenderResearch 发件人调研结果
// 7 天内的调研结果视为有效缓存，命中缓存不重新调研、不扣积分
type SenderResearch struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string    `gorm:"type:varchar(36);uniqueIndex:uk_user_sender;not null" json:"user_id"`
	EmailAddress     string    `gorm:"type:varchar(256);uniqueIndex:uk_user_sender;not null" json:"email_address"`
	Summary          string    `gorm:"type:text" json:"summary"`
	DeepResearch     bool      `gorm:"not null;default:false" json:"deep_research"`
	LastResearchedAt time.Time `gorm:"not null" json:"last_researched_at"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SenderResearch) TableName() string {
	return "sender_research"
}

// WorkflowAutomation 自动化工作流
type WorkflowAutomation struct {
	ID                int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string         `gorm:"type:varchar(36);index;not null" json:"user_id"`
	OrgID             string         `gorm:"type:varchar(36);not null" json:"org_id"`
	Name              string         `gorm:"type:varchar(200);not null" json:"name"`
	Description       string         `gorm:"type:varchar(1000)" json:"description"`
	IsActive          bool           `gorm:"not null;default:true" json:"is_active"`
	TriggerType       string         `gorm:"type:varchar(40);not null" json:"trigger_type"`
	TriggerConditions datatypes.JSON `gorm:"type:json" json:"trigger_conditions,omitempty"`
	Actions           datatypes.JSON `gorm:"type:json;not null" json:"actions"`
	ExecutionCount    int64          `gorm:"not null;default:0" json:"execution_count"`
	LastExecutedAt    *time.Time     `json:"last_executed_at"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WorkflowAutomation) TableName() string {
	return "workflow_automations"
}

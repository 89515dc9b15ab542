package model

import (
	"time"
)

// ============================================================================
// 调度状态机
// ============================================================================

const (
	ScheduleStatusPending    = "PENDING"    // 等待下次命中时间窗口
	ScheduleStatusDispatched = "DISPATCHED" // 本轮已派发，等待结果
	ScheduleStatusCompleted  = "COMPLETED"  // 一次性任务已完成
	ScheduleStatusCancelled  = "CANCELLED"  // 终态，不再被调度器选中
)

// ValidScheduleTransitions 合法的调度状态流转
// 派发失败回到 PENDING 继续重试，重试耗尽进入 CANCELLED 终态
var ValidScheduleTransitions = map[string][]string{
	ScheduleStatusPending:    {ScheduleStatusDispatched, ScheduleStatusCancelled},
	ScheduleStatusDispatched: {ScheduleStatusCompleted, ScheduleStatusPending, ScheduleStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := ValidScheduleTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	FollowUpTypeReminder = "reminder"
	FollowUpTypeCheckIn  = "check_in"
	FollowUpTypeClosing  = "closing"
	FollowUpTypeCustom   = "custom"
)

const DefaultMaxRetries = 3

// ============================================================================
// 每日摘要调度
// ============================================================================

// DigestSchedule 每日邮件摘要调度表
// 每个 agent 每天在固定时刻（按自己的时区）收取一份邮件摘要
//
// last_run_at 只在派发成功后更新，它构成 23 小时的冷却窗口，
// 防止调度周期与时间窗口跨天重叠时重复发送
type DigestSchedule struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID      string     `gorm:"type:varchar(36);index;not null" json:"agent_id"`
	UserID       string     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	OrgID        string     `gorm:"type:varchar(36);not null" json:"org_id"`
	Recipient    string     `gorm:"type:varchar(256);not null" json:"recipient"`            // 摘要收件地址
	ScheduleTime string     `gorm:"type:varchar(5);not null" json:"schedule_time"`          // 每日触发时刻 HH:MM
	Timezone     string     `gorm:"type:varchar(64);not null;default:UTC" json:"timezone"`  // IANA 时区名
	IsActive     bool       `gorm:"not null;default:true;index" json:"is_active"`
	Status       string     `gorm:"type:varchar(20);not null;default:PENDING" json:"status"`
	LastRunAt    *time.Time `json:"last_run_at"`
	NextRunAt    *time.Time `json:"next_run_at"`
	RetryCount   int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries   int        `gorm:"not null;default:3" json:"max_retries"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DigestSchedule) TableName() string {
	return "agent_schedules"
}

// ============================================================================
// 跟进提醒调度
// ============================================================================

// FollowUpSchedule 跟进提醒表
// 绝对时间点触发，到点后调度器派发跟进消息
type FollowUpSchedule struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	FollowUpNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"follow_up_no"`
	EmailID            int64      `gorm:"index;not null" json:"email_id"` // 关联的原始邮件
	UserID             string     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	OrgID              string     `gorm:"type:varchar(36);not null" json:"org_id"`
	ScheduledTime      time.Time  `gorm:"not null;index" json:"scheduled_time"`
	FollowUpType       string     `gorm:"type:varchar(20);not null" json:"follow_up_type"`
	TemplateMessage    string     `gorm:"type:text" json:"template_message"`
	IsCompleted        bool       `gorm:"not null;default:false" json:"is_completed"`
	CompletedAt        *time.Time `json:"completed_at"`
	IsCancelled        bool       `gorm:"not null;default:false" json:"is_cancelled"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason string     `gorm:"type:varchar(256)" json:"cancellation_reason"`
	RetryCount         int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries         int        `gorm:"not null;default:3" json:"max_retries"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FollowUpSchedule) TableName() string {
	return "follow_up_schedules"
}

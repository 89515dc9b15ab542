package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"inboxai/internal/config"
	"inboxai/internal/model"
	"inboxai/internal/repository"
	"inboxai/pkg/idgen"

	"gorm.io/gorm"
)

// DigestDispatchJob 每日摘要调度
// 固定周期扫描所有激活的调度，命中时间窗口且过了冷却期的才派发
type DigestDispatchJob struct {
	db           *gorm.DB
	scheduleRepo *repository.ScheduleRepository
	emailRepo    *repository.EmailRepository
	outboxRepo   *repository.OutboxRepository
	cfg          *config.Config
	stopCh       chan struct{}
	interval     time.Duration
	window       time.Duration
	cooldown     time.Duration
}

func NewDigestDispatchJob(db *gorm.DB, cfg *config.Config) *DigestDispatchJob {
	return &DigestDispatchJob{
		db:           db,
		scheduleRepo: repository.NewScheduleRepository(db),
		emailRepo:    repository.NewEmailRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		interval:     time.Duration(cfg.Business.DigestTickMinutes) * time.Minute,
		window:       time.Duration(cfg.Business.DigestWindowMinutes) * time.Minute,
		cooldown:     time.Duration(cfg.Business.DigestCooldownHours) * time.Hour,
	}
}

func (j *DigestDispatchJob) Start(ctx context.Context) {
	log.Println("[DigestDispatchJob] 摘要调度任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DigestDispatchJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DigestDispatchJob] 任务停止")
			return
		case <-ticker.C:
			j.dispatchDue(ctx, time.Now())
		}
	}
}

func (j *DigestDispatchJob) Stop() {
	close(j.stopCh)
}

// IsDue 判断一条调度在 now 这一刻是否应该派发
//
// 【关键点】两个条件缺一不可：
// 1. 时间窗口：按调度自己的时区换算，now 落在触发时刻之后 window 以内。
//    错过窗口的调度不补发，等第二天同一时刻
// 2. 冷却期：距离上次成功派发超过 cooldown（默认 23 小时）。
//    调度周期和时间窗口跨天重叠时，冷却期保证同一天不会发两次
//
// now 由调用方传入而不是内部取墙钟，保证判定逻辑可以用任意时刻测试
func IsDue(s *model.DigestSchedule, now time.Time, window, cooldown time.Duration) bool {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return false
	}

	target, err := time.Parse("15:04", s.ScheduleTime)
	if err != nil {
		return false
	}

	localNow := now.In(loc)
	scheduledAt := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		target.Hour(), target.Minute(), 0, 0, loc)

	elapsed := localNow.Sub(scheduledAt)
	if elapsed < 0 || elapsed >= window {
		return false
	}

	if s.LastRunAt != nil && now.Sub(*s.LastRunAt) <= cooldown {
		return false
	}

	return true
}

func (j *DigestDispatchJob) dispatchDue(ctx context.Context, now time.Time) {
	schedules, err := j.scheduleRepo.ListActive(ctx)
	if err != nil {
		log.Printf("[DigestDispatchJob] 查询调度失败: %v", err)
		return
	}

	dueCount := 0
	for _, schedule := range schedules {
		if !IsDue(schedule, now, j.window, j.cooldown) {
			continue
		}
		dueCount++
		j.dispatch(ctx, schedule, now)
	}

	if dueCount > 0 {
		log.Printf("[DigestDispatchJob] 本轮命中 %d 条调度", dueCount)
	}
}

// dispatch 派发单条摘要：取近 24 小时邮件，渲染摘要，写入待投递表
// 成功才回写 last_run_at；失败累加重试，耗尽后进入 CANCELLED 终态
//
// 派发前先把调度占位到 DISPATCHED，占不到说明别的实例已经拿走这条
func (j *DigestDispatchJob) dispatch(ctx context.Context, schedule *model.DigestSchedule, now time.Time) {
	if schedule.Status == model.ScheduleStatusDispatched {
		// 上一轮占位后没走完（进程中途退出），先退回 PENDING 重新占
		if err := j.scheduleRepo.ReleaseForRetry(ctx, schedule.ID); err != nil {
			log.Printf("[DigestDispatchJob] 恢复残留占位失败: id=%d, err=%v", schedule.ID, err)
			return
		}
	}

	if err := j.scheduleRepo.ClaimForDispatch(ctx, schedule.ID); err != nil {
		if !errors.Is(err, repository.ErrScheduleStatusInvalid) {
			log.Printf("[DigestDispatchJob] 占位失败: id=%d, err=%v", schedule.ID, err)
		}
		return
	}

	err := j.buildAndEnqueue(ctx, schedule, now)
	if err == nil {
		nextRunAt := nextOccurrence(schedule, now)
		if err := j.scheduleRepo.MarkDispatched(ctx, schedule.ID, now, nextRunAt); err != nil {
			log.Printf("[DigestDispatchJob] 回写派发状态失败: id=%d, err=%v", schedule.ID, err)
		} else {
			log.Printf("[DigestDispatchJob] 摘要已派发: id=%d, recipient=%s", schedule.ID, schedule.Recipient)
		}
		return
	}

	log.Printf("[DigestDispatchJob] 派发失败: id=%d, err=%v", schedule.ID, err)

	if schedule.RetryCount+1 > schedule.MaxRetries {
		if err := j.scheduleRepo.MarkCancelled(ctx, schedule.ID); err != nil {
			log.Printf("[DigestDispatchJob] 标记终态失败: id=%d, err=%v", schedule.ID, err)
		} else {
			log.Printf("[DigestDispatchJob] 调度超过最大重试次数，已取消: id=%d", schedule.ID)
		}
		return
	}

	if err := j.scheduleRepo.ReleaseForRetry(ctx, schedule.ID); err != nil {
		log.Printf("[DigestDispatchJob] 回退占位失败: id=%d, err=%v", schedule.ID, err)
	}
}

func (j *DigestDispatchJob) buildAndEnqueue(ctx context.Context, schedule *model.DigestSchedule, now time.Time) error {
	emails, err := j.emailRepo.ListReceivedSince(ctx, schedule.UserID, now.Add(-24*time.Hour), 50)
	if err != nil {
		return fmt.Errorf("查询邮件失败: %w", err)
	}

	payload := map[string]interface{}{
		"agent_id":     schedule.AgentID,
		"recipient":    schedule.Recipient,
		"email_count":  len(emails),
		"summary":      renderDigest(emails),
		"generated_at": now.Format(time.RFC3339),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化摘要内容失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: idgen.GenerateDigestNo(),
		Topic:      j.cfg.Kafka.Topic.Digest,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := j.outboxRepo.Create(ctx, nil, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// renderDigest 把邮件列表拼成纯文本摘要，分类结果附在每行后面
func renderDigest(emails []*model.Email) string {
	if len(emails) == 0 {
		return "过去 24 小时没有新邮件"
	}

	var b strings.Builder
	for _, e := range emails {
		b.WriteString("- ")
		b.WriteString(e.FromEmail)
		b.WriteString(": ")
		b.WriteString(e.Subject)
		if e.Category != "" {
			b.WriteString(" [")
			b.WriteString(e.Category)
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// nextOccurrence 下一次触发时刻：明天同一时间（按调度时区）
func nextOccurrence(s *model.DigestSchedule, now time.Time) time.Time {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	target, err := time.Parse("15:04", s.ScheduleTime)
	if err != nil {
		return now.AddDate(0, 0, 1)
	}
	localNow := now.In(loc)
	next := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		target.Hour(), target.Minute(), 0, 0, loc).AddDate(0, 0, 1)
	return next
}

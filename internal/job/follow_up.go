package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"inboxai/internal/config"
	"inboxai/internal/model"
	"inboxai/internal/repository"

	"gorm.io/gorm"
)

// FollowUpJob 跟进派发任务
// 到点的跟进渲染成消息写入待投递表；失败重试，耗尽后取消
type FollowUpJob struct {
	db           *gorm.DB
	followUpRepo *repository.FollowUpRepository
	emailRepo    *repository.EmailRepository
	outboxRepo   *repository.OutboxRepository
	cfg          *config.Config
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
}

func NewFollowUpJob(db *gorm.DB, cfg *config.Config) *FollowUpJob {
	return &FollowUpJob{
		db:           db,
		followUpRepo: repository.NewFollowUpRepository(db),
		emailRepo:    repository.NewEmailRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		interval:     time.Duration(cfg.Business.FollowUpIntervalMinutes) * time.Minute,
		batchSize:    100,
	}
}

func (j *FollowUpJob) Start(ctx context.Context) {
	log.Println("[FollowUpJob] 跟进派发任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[FollowUpJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[FollowUpJob] 任务停止")
			return
		case <-ticker.C:
			j.ProcessDue(ctx, time.Now())
		}
	}
}

func (j *FollowUpJob) Stop() {
	close(j.stopCh)
}

// ProcessDue 处理所有到点的跟进，now 由调用方传入便于测试
func (j *FollowUpJob) ProcessDue(ctx context.Context, now time.Time) {
	followUps, err := j.followUpRepo.GetDue(ctx, now, j.batchSize)
	if err != nil {
		log.Printf("[FollowUpJob] 查询到期跟进失败: %v", err)
		return
	}

	if len(followUps) == 0 {
		return
	}

	log.Printf("[FollowUpJob] 发现 %d 条到期跟进", len(followUps))

	for _, followUp := range followUps {
		j.dispatch(ctx, followUp, now)
	}
}

func (j *FollowUpJob) dispatch(ctx context.Context, followUp *model.FollowUpSchedule, now time.Time) {
	err := j.enqueue(ctx, followUp, now)
	if err == nil {
		if err := j.followUpRepo.MarkCompleted(ctx, followUp.ID, now); err != nil {
			log.Printf("[FollowUpJob] 标记完成失败: id=%d, err=%v", followUp.ID, err)
		} else {
			log.Printf("[FollowUpJob] 跟进已派发: no=%s", followUp.FollowUpNo)
		}
		return
	}

	log.Printf("[FollowUpJob] 派发失败: no=%s, err=%v", followUp.FollowUpNo, err)

	if followUp.RetryCount+1 > followUp.MaxRetries {
		if err := j.followUpRepo.Cancel(ctx, followUp.ID, "超过最大重试次数"); err != nil {
			log.Printf("[FollowUpJob] 标记终态失败: id=%d, err=%v", followUp.ID, err)
		} else {
			log.Printf("[FollowUpJob] 跟进超过最大重试次数，已取消: no=%s", followUp.FollowUpNo)
		}
		return
	}

	if err := j.followUpRepo.IncrementRetryCount(ctx, followUp.ID); err != nil {
		log.Printf("[FollowUpJob] 增加重试次数失败: id=%d, err=%v", followUp.ID, err)
	}
}

func (j *FollowUpJob) enqueue(ctx context.Context, followUp *model.FollowUpSchedule, now time.Time) error {
	email, err := j.emailRepo.GetByID(ctx, followUp.EmailID)
	if err != nil {
		return fmt.Errorf("查询原始邮件失败: %w", err)
	}

	payload := map[string]interface{}{
		"follow_up_no":   followUp.FollowUpNo,
		"follow_up_type": followUp.FollowUpType,
		"recipient":      email.FromEmail,
		"subject":        "Re: " + email.Subject,
		"body":           followUp.TemplateMessage,
		"dispatched_at":  now.Format(time.RFC3339),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化跟进内容失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: followUp.FollowUpNo,
		Topic:      j.cfg.Kafka.Topic.FollowUp,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return j.outboxRepo.Create(ctx, nil, msg)
}

package job

import (
	"context"
	"log"
	"time"

	"inboxai/internal/config"
	"inboxai/internal/infrastructure/lock"
	"inboxai/internal/model"
	"inboxai/internal/repository"
	"inboxai/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditResetJob 月度积分重置任务
//
// 不在每月 1 号定点触发，而是周期扫描 credits_reset_at <= now 的账户：
// 某一轮失败（存储不可用等）时账户的 credits_reset_at 不会前移，
// 下一轮扫描自然补做，不会把哪个租户整月漏掉
type CreditResetJob struct {
	db          *gorm.DB
	redisClient *redis.Client
	credits     *service.CreditService
	creditRepo  *repository.CreditRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewCreditResetJob(db *gorm.DB, redisClient *redis.Client, credits *service.CreditService, cfg *config.Config) *CreditResetJob {
	batchSize := cfg.Business.ResetBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CreditResetJob{
		db:          db,
		redisClient: redisClient,
		credits:     credits,
		creditRepo:  repository.NewCreditRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    time.Duration(cfg.Business.ResetIntervalMinutes) * time.Minute,
		batchSize:   batchSize,
	}
}

func (j *CreditResetJob) Start(ctx context.Context) {
	log.Println("[CreditResetJob] 月度重置任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[CreditResetJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[CreditResetJob] 任务停止")
			return
		case <-ticker.C:
			j.resetDue(ctx, time.Now())
		}
	}
}

func (j *CreditResetJob) Stop() {
	close(j.stopCh)
}

func (j *CreditResetJob) resetDue(ctx context.Context, now time.Time) {
	// 集群锁：多实例部署时同一轮只有一个实例执行重置扫描
	resetLock := lock.NewResetLock(j.redisClient, uuid.NewString())
	acquired, err := resetLock.TryLock(ctx)
	if err != nil {
		log.Printf("[CreditResetJob] 获取重置锁失败: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer resetLock.Unlock(ctx)

	j.ResetBatch(ctx, now)
}

// ResetBatch 处理一批到期账户，now 由调用方传入便于测试
func (j *CreditResetJob) ResetBatch(ctx context.Context, now time.Time) {
	balances, err := j.creditRepo.ListDueForReset(ctx, now, j.batchSize)
	if err != nil {
		log.Printf("[CreditResetJob] 查询到期账户失败: %v", err)
		return
	}

	if len(balances) == 0 {
		return
	}

	log.Printf("[CreditResetJob] 发现 %d 个到期账户", len(balances))

	resetCount := 0
	for _, balance := range balances {
		monthly, ok := model.TierMonthlyCredits[balance.SubscriptionTier]
		if !ok {
			// 未知档位按 free 兜底，避免整轮卡住
			monthly = model.TierMonthlyCredits[model.TierFree]
		}

		if _, err := j.credits.ResetMonthly(ctx, balance.UserID, balance.OrgID, balance.SubscriptionTier, monthly); err != nil {
			log.Printf("[CreditResetJob] 重置失败，下一轮补做: userID=%s, orgID=%s, err=%v",
				balance.UserID, balance.OrgID, err)
			continue
		}
		resetCount++
	}

	log.Printf("[CreditResetJob] 本轮重置 %d 个账户", resetCount)
}

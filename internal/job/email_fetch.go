package job

import (
	"context"
	"errors"
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

// IncomingEmail 拉取到的一封邮件，和存储模型解耦
type IncomingEmail struct {
	MessageID  string
	ThreadID   string
	Subject    string
	From       string
	To         string
	Body       string
	ReceivedAt time.Time
}

// Fetcher 邮件拉取协作方，对本核心是黑盒
// 具体实现（Gmail OAuth）在 infrastructure/gmail
type Fetcher interface {
	Fetch(ctx context.Context, refreshToken string, since time.Time) ([]*IncomingEmail, error)
}

// EmailFetchJob 定时拉信任务
// 每轮遍历所有激活邮箱，新邮件入库后走计费闸门做 AI 分类
type EmailFetchJob struct {
	db          *gorm.DB
	redisClient *redis.Client
	fetcher     Fetcher
	actions     *service.ActionService
	emailRepo   *repository.EmailRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
}

func NewEmailFetchJob(db *gorm.DB, redisClient *redis.Client, fetcher Fetcher, actions *service.ActionService, cfg *config.Config) *EmailFetchJob {
	return &EmailFetchJob{
		db:          db,
		redisClient: redisClient,
		fetcher:     fetcher,
		actions:     actions,
		emailRepo:   repository.NewEmailRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    time.Duration(cfg.Business.FetchIntervalMinutes) * time.Minute,
	}
}

func (j *EmailFetchJob) Start(ctx context.Context) {
	log.Println("[EmailFetchJob] 拉信任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[EmailFetchJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[EmailFetchJob] 任务停止")
			return
		case <-ticker.C:
			j.fetchAll(ctx)
		}
	}
}

func (j *EmailFetchJob) Stop() {
	close(j.stopCh)
}

func (j *EmailFetchJob) fetchAll(ctx context.Context) {
	// 集群锁：多实例部署时同一轮只有一个实例拉信
	fetchLock := lock.NewFetchLock(j.redisClient, uuid.NewString())
	acquired, err := fetchLock.TryLock(ctx)
	if err != nil {
		log.Printf("[EmailFetchJob] 获取拉信锁失败: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer fetchLock.Unlock(ctx)

	accounts, err := j.emailRepo.ListActiveAccounts(ctx)
	if err != nil {
		log.Printf("[EmailFetchJob] 查询邮箱账号失败: %v", err)
		return
	}

	for _, account := range accounts {
		j.FetchAccount(ctx, account)
	}
}

// FetchAccount 拉取单个邮箱并对新邮件分类
//
// 入库按 (user_id, gmail_message_id) 去重，重复拉到的邮件不会二次入库
// 也不会二次计费。分类撞到积分不足时，本账号剩余邮件直接跳过分类
// （邮件本身已入库，等额度恢复后可以手动补分类）
func (j *EmailFetchJob) FetchAccount(ctx context.Context, account *model.EmailAccount) {
	since := time.Now().Add(-24 * time.Hour)
	incoming, err := j.fetcher.Fetch(ctx, account.RefreshToken, since)
	if err != nil {
		log.Printf("[EmailFetchJob] 拉信失败: account=%s, err=%v", account.EmailAddress, err)
		return
	}

	stored := 0
	outOfCredits := false
	for _, in := range incoming {
		email := &model.Email{
			UserID:         account.UserID,
			OrgID:          account.OrgID,
			GmailMessageID: in.MessageID,
			GmailThreadID:  in.ThreadID,
			Subject:        in.Subject,
			FromEmail:      in.From,
			ToEmail:        in.To,
			BodyPlain:      in.Body,
			ReceivedAt:     in.ReceivedAt,
		}

		isNew, err := j.emailRepo.CreateIfAbsent(ctx, email)
		if err != nil {
			log.Printf("[EmailFetchJob] 邮件入库失败: msgID=%s, err=%v", in.MessageID, err)
			continue
		}
		if !isNew {
			continue
		}
		stored++

		if outOfCredits {
			continue
		}
		if _, err := j.actions.ClassifyEmail(ctx, account.UserID, email.ID); err != nil {
			if errors.Is(err, repository.ErrInsufficientCredits) {
				log.Printf("[EmailFetchJob] 积分不足，跳过本账号剩余分类: account=%s", account.EmailAddress)
				outOfCredits = true
				continue
			}
			log.Printf("[EmailFetchJob] 分类失败: emailID=%d, err=%v", email.ID, err)
		}
	}

	if stored > 0 {
		log.Printf("[EmailFetchJob] 账号 %s 新增 %d 封邮件", account.EmailAddress, stored)
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"inboxai/internal/model"
	"inboxai/internal/repository"
	"inboxai/pkg/idgen"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// deductMaxRetries 账本写入冲突的内部重试次数
// 冲突只说明两个请求撞上了同一行，不是业务失败，重试对调用方透明
const deductMaxRetries = 3

// CreditService 积分权威层：所有发放和扣减的唯一入口
//
// 【关键点】正确性边界在 CreditRepository 的条件 UPDATE 上：
// 余额 5、两个并发扣 3 的请求，数据库保证只有一个命中，
// 另一个拿到 ErrLedgerConflict 后重试，重读余额 2 < 3，得到积分不足。
// 任何情况下余额不会变成负数，也不会产生半次扣减
type CreditService struct {
	db              *gorm.DB
	creditRepo      *repository.CreditRepository
	transactionRepo *repository.TransactionRepository
}

func NewCreditService(db *gorm.DB) *CreditService {
	return &CreditService{
		db:              db,
		creditRepo:      repository.NewCreditRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

func (s *CreditService) GetBalance(ctx context.Context, userID, orgID string) (*model.CreditBalance, error) {
	return s.creditRepo.GetOrCreate(ctx, userID, orgID)
}

// TryDeduct 原子扣减
//
// 成功：余额扣减与流水写入在同一个事务里提交，返回扣减后的账户
// 积分不足：不发生任何变更，不写流水，原样返回 ErrInsufficientCredits
func (s *CreditService) TryDeduct(ctx context.Context, userID, orgID string, cost int64, actionType, description string, metadata map[string]interface{}) (*model.CreditBalance, error) {
	if cost <= 0 {
		return nil, fmt.Errorf("扣减积分数必须大于0: %d", cost)
	}

	var metadataJSON datatypes.JSON
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("序列化 metadata 失败: %w", err)
		}
		metadataJSON = raw
	}

	for attempt := 0; attempt < deductMaxRetries; attempt++ {
		balance, err := s.creditRepo.GetOrCreate(ctx, userID, orgID)
		if err != nil {
			if repository.IsStoreBusy(err) {
				continue
			}
			return nil, err
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.creditRepo.Deduct(ctx, tx, userID, orgID, cost, balance.Version); err != nil {
				return err
			}

			trans := &model.CreditTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        userID,
				OrgID:         orgID,
				ActionType:    actionType,
				CreditsUsed:   cost,
				Description:   description,
				Metadata:      metadataJSON,
				BalanceBefore: balance.AvailableCredits,
				BalanceAfter:  balance.AvailableCredits - cost,
			}
			return s.transactionRepo.Create(ctx, tx, trans)
		})

		if err == nil {
			return s.creditRepo.GetByTenant(ctx, userID, orgID)
		}
		if errors.Is(err, repository.ErrLedgerConflict) || repository.IsStoreBusy(err) {
			// 版本号被并发请求推进了，或驱动层撞锁，重读后再试
			continue
		}
		return nil, err
	}

	return nil, repository.ErrLedgerConflict
}

// Grant 发放积分，负数流水标记发放
// 账户不存在时按 free 档自动创建（首次发放即开户）
func (s *CreditService) Grant(ctx context.Context, userID, orgID string, amount int64, description string) (*model.CreditBalance, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("发放积分数必须大于0: %d", amount)
	}

	if _, err := s.creditRepo.GetOrCreate(ctx, userID, orgID); err != nil {
		return nil, err
	}

	var err error
	for attempt := 0; attempt < deductMaxRetries; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.creditRepo.Grant(ctx, tx, userID, orgID, amount); err != nil {
				return err
			}

			// 审计字段从发放后的行里重新读出来算，并发发放时
			// 各自的流水才能首尾相接，而不是都记同一份旧快照
			var fresh model.CreditBalance
			if err := tx.WithContext(ctx).
				Where("user_id = ? AND org_id = ?", userID, orgID).
				First(&fresh).Error; err != nil {
				return err
			}

			trans := &model.CreditTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        userID,
				OrgID:         orgID,
				ActionType:    "credit_grant",
				CreditsUsed:   -amount,
				Description:   description,
				BalanceBefore: fresh.AvailableCredits - amount,
				BalanceAfter:  fresh.AvailableCredits,
			}
			return s.transactionRepo.Create(ctx, tx, trans)
		})
		if err == nil {
			break
		}
		if repository.IsStoreBusy(err) {
			continue
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	return s.creditRepo.GetByTenant(ctx, userID, orgID)
}

// AssignTier 变更订阅档位并按新档位发满月额度（开通/升级入口）
func (s *CreditService) AssignTier(ctx context.Context, userID, orgID, tier string) (*model.CreditBalance, error) {
	monthly, ok := model.TierMonthlyCredits[tier]
	if !ok {
		return nil, fmt.Errorf("未知的订阅档位: %s", tier)
	}

	if _, err := s.creditRepo.GetOrCreate(ctx, userID, orgID); err != nil {
		return nil, err
	}
	if err := s.creditRepo.UpdateTier(ctx, userID, orgID, tier); err != nil {
		return nil, err
	}

	return s.ResetMonthly(ctx, userID, orgID, tier, monthly)
}

// ResetMonthly 月度重置：覆盖为档位月额度，未用完的积分不结转
// credits_reset_at 在原值基础上整推一个月，与重置时的余额无关
func (s *CreditService) ResetMonthly(ctx context.Context, userID, orgID, tier string, monthlyCredits int64) (*model.CreditBalance, error) {
	balance, err := s.creditRepo.GetByTenant(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}

	nextResetAt := balance.CreditsResetAt.AddDate(0, 1, 0)
	if balance.CreditsResetAt.IsZero() {
		nextResetAt = time.Now().AddDate(0, 1, 0)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.creditRepo.Reset(ctx, tx, userID, orgID, monthlyCredits, nextResetAt); err != nil {
			return err
		}

		trans := &model.CreditTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			OrgID:         orgID,
			ActionType:    model.ActionMonthlyReset,
			CreditsUsed:   -monthlyCredits,
			Description:   fmt.Sprintf("月度重置-%s", tier),
			BalanceBefore: balance.AvailableCredits,
			BalanceAfter:  monthlyCredits,
		}
		return s.transactionRepo.Create(ctx, tx, trans)
	})
	if err != nil {
		return nil, err
	}

	return s.creditRepo.GetByTenant(ctx, userID, orgID)
}

func (s *CreditService) ListTransactions(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	return s.transactionRepo.ListByTenant(ctx, userID, orgID, page, pageSize)
}

// Reconcile 对账：本周期内正数流水之和应等于账户的 used_credits
// 不一致说明账户和流水出现了分叉，以流水为准人工修复
func (s *CreditService) Reconcile(ctx context.Context, userID, orgID string) (bool, error) {
	balance, err := s.creditRepo.GetByTenant(ctx, userID, orgID)
	if err != nil {
		return false, err
	}

	lastResetAt, err := s.transactionRepo.LastResetAt(ctx, userID, orgID)
	if err != nil {
		return false, err
	}

	spent, err := s.transactionRepo.SumSpentSince(ctx, userID, orgID, lastResetAt)
	if err != nil {
		return false, err
	}

	if spent != balance.UsedCredits {
		log.Printf("[CreditService] 对账不一致: userID=%s, orgID=%s, 流水扣减=%d, 账户已用=%d",
			userID, orgID, spent, balance.UsedCredits)
		return false, nil
	}
	return true, nil
}

package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"inboxai/internal/model"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound     = errors.New("积分账户不存在")
	ErrInsufficientCredits = errors.New("积分不足")
	ErrLedgerConflict      = errors.New("账本写入冲突，请重试")
)

// IsStoreBusy 判断是否驱动层的锁竞争（MySQL 死锁/锁等待超时、SQLite busy/locked）
// 这类错误和版本冲突同一性质：只说明并发写撞上了同一行，重读重试即可恢复，
// 不能原样抛给调用方当业务失败处理
func IsStoreBusy(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1205 锁等待超时，1213 死锁
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked")
}

// CreditRepository 积分账户存储
//
// 【关键点】账户的所有变更都是单条带条件的 UPDATE（条件里同时带余额判断
// 和乐观锁版本号），不存在"读出来-判断-写回去"三步。并发扣减打到同一行时，
// 数据库保证只有一个 UPDATE 命中，另一个 RowsAffected=0，由调用方区分是
// 余额不足还是版本冲突
type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) GetByTenant(ctx context.Context, userID, orgID string) (*model.CreditBalance, error) {
	var balance model.CreditBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate 首次发放时创建账户，默认 free 档
// OnConflict DoNothing 保证并发创建同一租户时不会出现两行
func (r *CreditRepository) GetOrCreate(ctx context.Context, userID, orgID string) (*model.CreditBalance, error) {
	balance, err := r.GetByTenant(ctx, userID, orgID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	newBalance := &model.CreditBalance{
		UserID:           userID,
		OrgID:            orgID,
		SubscriptionTier: model.TierFree,
		CreditsResetAt:   time.Now().AddDate(0, 1, 0),
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "org_id"}},
			DoNothing: true,
		}).
		Create(newBalance).Error
	if err != nil {
		return nil, err
	}

	return r.GetByTenant(ctx, userID, orgID)
}

// Deduct 原子扣减：available >= cost 且版本号匹配时才会命中
//
// 没命中时重新读一次账户来区分两种失败：
//   - 余额确实不够 -> ErrInsufficientCredits（业务失败，不重试）
//   - 余额够但版本变了 -> ErrLedgerConflict（存储层竞争，由上层重试）
//
// 驱动层的 busy/locked 错误同样归入 ErrLedgerConflict，上层统一重试
func (r *CreditRepository) Deduct(ctx context.Context, tx *gorm.DB, userID, orgID string, cost int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND org_id = ? AND available_credits >= ? AND version = ?",
			userID, orgID, cost, version).
		Updates(map[string]interface{}{
			"available_credits": gorm.Expr("available_credits - ?", cost),
			"used_credits":      gorm.Expr("used_credits + ?", cost),
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		if IsStoreBusy(result.Error) {
			return ErrLedgerConflict
		}
		return result.Error
	}

	if result.RowsAffected == 0 {
		balance, err := r.GetByTenant(ctx, userID, orgID)
		if err != nil {
			if IsStoreBusy(err) {
				return ErrLedgerConflict
			}
			return err
		}
		if balance.AvailableCredits < cost {
			return ErrInsufficientCredits
		}
		return ErrLedgerConflict
	}

	return nil
}

// Grant 发放积分：total 和 available 同增，used 不变
func (r *CreditRepository) Grant(ctx context.Context, tx *gorm.DB, userID, orgID string, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		Updates(map[string]interface{}{
			"total_credits":     gorm.Expr("total_credits + ?", amount),
			"available_credits": gorm.Expr("available_credits + ?", amount),
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// Reset 月度重置：直接覆盖为档位月额度，未用完的积分不结转
func (r *CreditRepository) Reset(ctx context.Context, tx *gorm.DB, userID, orgID string, monthlyCredits int64, nextResetAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		Updates(map[string]interface{}{
			"total_credits":     monthlyCredits,
			"used_credits":      0,
			"available_credits": monthlyCredits,
			"credits_reset_at":  nextResetAt,
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// UpdateTier 变更订阅档位，新额度在下一次月度重置时生效
func (r *CreditRepository) UpdateTier(ctx context.Context, userID, orgID, tier string) error {
	result := r.db.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		Updates(map[string]interface{}{
			"subscription_tier": tier,
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// ListDueForReset 查出所有到期应重置的账户
// 上一轮重置失败的账户 credits_reset_at 不会前移，下一轮仍会被查出来补做
func (r *CreditRepository) ListDueForReset(ctx context.Context, now time.Time, limit int) ([]*model.CreditBalance, error) {
	var balances []*model.CreditBalance
	err := r.db.WithContext(ctx).
		Where("credits_reset_at <= ?", now).
		Order("credits_reset_at ASC").
		Limit(limit).
		Find(&balances).Error
	return balances, err
}

package repository

import (
	"context"
	"errors"
	"time"

	"inboxai/internal/model"

	"gorm.io/gorm"
)

// TransactionRepository 积分流水存储，只有追加和查询，没有更新和删除
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) ListByTenant(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("user_id = ? AND org_id = ?", userID, orgID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumSpentSince 统计某时刻之后的扣减总额（只算正数流水）
// 对账用：本周期内的扣减总额应等于账户的 used_credits
func (r *TransactionRepository) SumSpentSince(ctx context.Context, userID, orgID string, since time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Where("user_id = ? AND org_id = ? AND credits_used > 0 AND created_at > ?", userID, orgID, since).
		Select("COALESCE(SUM(credits_used), 0)").
		Scan(&sum).Error
	return sum, err
}

// LastResetAt 最近一次月度重置流水的时间，从未重置过返回零值时间
func (r *TransactionRepository) LastResetAt(ctx context.Context, userID, orgID string) (time.Time, error) {
	var trans model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ? AND action_type = ?", userID, orgID, model.ActionMonthlyReset).
		Order("created_at DESC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return trans.CreatedAt, nil
}

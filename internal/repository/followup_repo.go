package repository

import (
	"context"
	"errors"
	"time"

	"inboxai/internal/model"

	"gorm.io/gorm"
)

var ErrFollowUpNotFound = errors.New("跟进记录不存在")

// FollowUpRepository 跟进提醒存储
type FollowUpRepository struct {
	db *gorm.DB
}

func NewFollowUpRepository(db *gorm.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

func (r *FollowUpRepository) Create(ctx context.Context, tx *gorm.DB, followUp *model.FollowUpSchedule) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(followUp).Error
}

func (r *FollowUpRepository) GetByNo(ctx context.Context, followUpNo string) (*model.FollowUpSchedule, error) {
	var followUp model.FollowUpSchedule
	err := r.db.WithContext(ctx).Where("follow_up_no = ?", followUpNo).First(&followUp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFollowUpNotFound
		}
		return nil, err
	}
	return &followUp, nil
}

// GetDue 查出所有到点且未完成未取消的跟进
func (r *FollowUpRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*model.FollowUpSchedule, error) {
	var followUps []*model.FollowUpSchedule
	err := r.db.WithContext(ctx).
		Where("scheduled_time <= ? AND is_completed = ? AND is_cancelled = ?", now, false, false).
		Order("scheduled_time ASC").
		Limit(limit).
		Find(&followUps).Error
	return followUps, err
}

func (r *FollowUpRepository) MarkCompleted(ctx context.Context, id int64, completedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.FollowUpSchedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_completed": true,
			"completed_at": completedAt,
		}).Error
}

func (r *FollowUpRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.FollowUpSchedule{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

// Cancel 进入终态：重试耗尽或用户主动取消
func (r *FollowUpRepository) Cancel(ctx context.Context, id int64, reason string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.FollowUpSchedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_cancelled":        true,
			"cancelled_at":        now,
			"cancellation_reason": reason,
		}).Error
}

package repository

import (
	"context"
	"errors"
	"time"

	"inboxai/internal/model"

	"gorm.io/gorm"
)

var (
	ErrScheduleNotFound      = errors.New("调度记录不存在")
	ErrScheduleStatusInvalid = errors.New("调度状态流转不合法")
)

// ScheduleRepository 每日摘要调度存储
type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Create(ctx context.Context, schedule *model.DigestSchedule) error {
	return r.db.WithContext(ctx).Create(schedule).Error
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id int64) (*model.DigestSchedule, error) {
	var schedule model.DigestSchedule
	err := r.db.WithContext(ctx).First(&schedule, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return &schedule, nil
}

// ListActive 调度器每轮的候选集：激活且未进入终态的调度
// is_active=false 或 CANCELLED 的记录永远不会被选中
func (r *ScheduleRepository) ListActive(ctx context.Context) ([]*model.DigestSchedule, error) {
	var schedules []*model.DigestSchedule
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND status <> ?", true, model.ScheduleStatusCancelled).
		Find(&schedules).Error
	return schedules, err
}

// ClaimForDispatch 派发前先把调度从 PENDING 占位到 DISPATCHED
// WHERE 带上原状态，两个调度器实例抢同一条时只有一个命中
func (r *ScheduleRepository) ClaimForDispatch(ctx context.Context, id int64) error {
	return r.transition(ctx, id, model.ScheduleStatusPending, model.ScheduleStatusDispatched, nil)
}

// MarkDispatched 派发成功后退回 PENDING 等下一轮，回写 last_run_at 进入冷却窗口
// 同时清零重试计数，下一轮失败从头计数
func (r *ScheduleRepository) MarkDispatched(ctx context.Context, id int64, ranAt time.Time, nextRunAt time.Time) error {
	return r.transition(ctx, id, model.ScheduleStatusDispatched, model.ScheduleStatusPending,
		map[string]interface{}{
			"last_run_at": ranAt,
			"next_run_at": nextRunAt,
			"retry_count": 0,
		})
}

// ReleaseForRetry 派发失败把占位退回 PENDING，重试计数加一
func (r *ScheduleRepository) ReleaseForRetry(ctx context.Context, id int64) error {
	return r.transition(ctx, id, model.ScheduleStatusDispatched, model.ScheduleStatusPending,
		map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
		})
}

// MarkCancelled 重试耗尽后的终态，调度器不再选中
func (r *ScheduleRepository) MarkCancelled(ctx context.Context, id int64) error {
	return r.transition(ctx, id, model.ScheduleStatusDispatched, model.ScheduleStatusCancelled,
		map[string]interface{}{
			"is_active":   false,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
}

// transition 带状态机校验的状态流转
// 先查合法流转表，再用条件 UPDATE 保证当前状态没被并发改走；
// 两层任何一层不过都返回 ErrScheduleStatusInvalid
func (r *ScheduleRepository) transition(ctx context.Context, id int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrScheduleStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&model.DigestSchedule{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrScheduleStatusInvalid
	}
	return nil
}

// Deactivate 用户手动停用，已经派发出去的本轮任务不受影响
func (r *ScheduleRepository) Deactivate(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.DigestSchedule{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

package repository

import (
	"context"
	"testing"
	"time"

	"inboxai/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedule() *model.DigestSchedule {
	return &model.DigestSchedule{
		AgentID: "agent-1", UserID: "user-1", OrgID: "org-1",
		Recipient: "user@example.com", ScheduleTime: "08:00", Timezone: "UTC",
		IsActive: true, Status: model.ScheduleStatusPending,
		MaxRetries: model.DefaultMaxRetries,
	}
}

// 占位-回写构成一次完整派发：PENDING -> DISPATCHED -> PENDING
func TestScheduleDispatchCycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	schedule := newSchedule()
	require.NoError(t, repo.Create(ctx, schedule))

	ranAt := time.Date(2026, 3, 10, 8, 5, 0, 0, time.UTC)
	nextRunAt := ranAt.AddDate(0, 0, 1)

	// 没占位就回写：PENDING 行不满足前置状态，直接拒绝
	err := repo.MarkDispatched(ctx, schedule.ID, ranAt, nextRunAt)
	assert.ErrorIs(t, err, ErrScheduleStatusInvalid)

	require.NoError(t, repo.ClaimForDispatch(ctx, schedule.ID))

	// 已占位的行抢不到第二次
	assert.ErrorIs(t, repo.ClaimForDispatch(ctx, schedule.ID), ErrScheduleStatusInvalid)

	saved, err := repo.GetByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusDispatched, saved.Status)

	require.NoError(t, repo.MarkDispatched(ctx, schedule.ID, ranAt, nextRunAt))

	saved, err = repo.GetByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, saved.Status)
	require.NotNil(t, saved.LastRunAt)
	assert.Equal(t, ranAt.Unix(), saved.LastRunAt.Unix())
	assert.Equal(t, 0, saved.RetryCount)
}

// 失败回退累加重试；取消进入终态后任何流转都不再命中
func TestScheduleRetryAndTerminalState(t *testing.T) {
	db := newTestDB(t)
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	schedule := newSchedule()
	require.NoError(t, repo.Create(ctx, schedule))

	require.NoError(t, repo.ClaimForDispatch(ctx, schedule.ID))
	require.NoError(t, repo.ReleaseForRetry(ctx, schedule.ID))

	saved, err := repo.GetByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, saved.Status)
	assert.Equal(t, 1, saved.RetryCount)

	require.NoError(t, repo.ClaimForDispatch(ctx, schedule.ID))
	require.NoError(t, repo.MarkCancelled(ctx, schedule.ID))

	saved, err = repo.GetByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusCancelled, saved.Status)
	assert.False(t, saved.IsActive)

	// CANCELLED 是终态
	assert.ErrorIs(t, repo.ClaimForDispatch(ctx, schedule.ID), ErrScheduleStatusInvalid)
	assert.ErrorIs(t, repo.ReleaseForRetry(ctx, schedule.ID), ErrScheduleStatusInvalid)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

package service

import (
	"context"
	"errors"
	"testing"

	"inboxai/internal/model"
	"inboxai/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateExecute(t *testing.T) {
	db := newTestDB(t)
	credits := NewCreditService(db)
	gate := NewGateService(credits)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)

	executed := false
	result, err := gate.Execute(ctx, "user-1", "org-1",
		model.ActionEmailClassification, "分类", nil,
		func(ctx context.Context) error {
			executed = true
			// 动作执行时扣费必须已经落库
			balance, err := credits.GetBalance(ctx, "user-1", "org-1")
			require.NoError(t, err)
			assert.Equal(t, int64(399), balance.AvailableCredits)
			return nil
		})

	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, int64(1), result.CreditsUsed)
	assert.Equal(t, int64(399), result.AvailableCredits)
}

func TestGateExecuteActionFailedNoRefund(t *testing.T) {
	db := newTestDB(t)
	credits := NewCreditService(db)
	gate := NewGateService(credits)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)

	actionErr := errors.New("模型超时")
	result, err := gate.Execute(ctx, "user-1", "org-1",
		model.ActionEmailDraftShort, "草拟", nil,
		func(ctx context.Context) error { return actionErr })

	// 动作失败原样透传，但费已扣且不退
	assert.ErrorIs(t, err, actionErr)
	require.NotNil(t, result)
	assert.Equal(t, int64(3), result.CreditsUsed)

	balance, err := credits.GetBalance(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(397), balance.AvailableCredits)
}

func TestGateExecuteInsufficient(t *testing.T) {
	db := newTestDB(t)
	credits := NewCreditService(db)
	gate := NewGateService(credits)
	ctx := context.Background()

	_, err := credits.Grant(ctx, "user-1", "org-1", 2, "首充")
	require.NoError(t, err)

	executed := false
	result, err := gate.Execute(ctx, "user-1", "org-1",
		model.ActionEmailDraftLong, "草拟", nil,
		func(ctx context.Context) error {
			executed = true
			return nil
		})

	// 积分不足：动作根本不会开始
	assert.ErrorIs(t, err, repository.ErrInsufficientCredits)
	assert.Nil(t, result)
	assert.False(t, executed)

	balance, err := credits.GetBalance(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance.AvailableCredits)
}

func TestGateExecuteUnknownAction(t *testing.T) {
	db := newTestDB(t)
	credits := NewCreditService(db)
	gate := NewGateService(credits)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)

	result, err := gate.Execute(ctx, "user-1", "org-1",
		"teleport", "未知动作", nil,
		func(ctx context.Context) error { return nil })

	assert.Error(t, err)
	assert.Nil(t, result)

	// 未知动作不产生任何扣费
	balance, err := credits.GetBalance(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance.AvailableCredits)
}

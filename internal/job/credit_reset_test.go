package job

import (
	"context"
	"testing"
	"time"

	"inboxai/internal/model"
	"inboxai/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetBatch(t *testing.T) {
	db := newTestDB(t)
	credits := service.NewCreditService(db)
	j := NewCreditResetJob(db, nil, credits, testConfig())
	ctx := context.Background()
	now := time.Now()

	// 到期的 pro 账户：用掉一半，等待重置
	require.NoError(t, db.Create(&model.CreditBalance{
		UserID: "due-pro", OrgID: "org-1",
		TotalCredits: 5000, UsedCredits: 2500, AvailableCredits: 2500,
		SubscriptionTier: model.TierPro,
		CreditsResetAt:   now.Add(-time.Hour),
	}).Error)

	// 未到期的账户不应被动
	require.NoError(t, db.Create(&model.CreditBalance{
		UserID: "not-due", OrgID: "org-1",
		TotalCredits: 400, UsedCredits: 10, AvailableCredits: 390,
		SubscriptionTier: model.TierFree,
		CreditsResetAt:   now.AddDate(0, 0, 15),
	}).Error)

	// 脏数据：未知档位按 free 兜底
	require.NoError(t, db.Create(&model.CreditBalance{
		UserID: "due-unknown", OrgID: "org-1",
		TotalCredits: 100, UsedCredits: 100, AvailableCredits: 0,
		SubscriptionTier: "platinum",
		CreditsResetAt:   now.Add(-time.Hour),
	}).Error)

	j.ResetBatch(ctx, now)

	var pro model.CreditBalance
	require.NoError(t, db.Where("user_id = ?", "due-pro").First(&pro).Error)
	assert.Equal(t, int64(5000), pro.AvailableCredits)
	assert.Equal(t, int64(0), pro.UsedCredits)
	assert.True(t, pro.CreditsResetAt.After(now))

	var notDue model.CreditBalance
	require.NoError(t, db.Where("user_id = ?", "not-due").First(&notDue).Error)
	assert.Equal(t, int64(390), notDue.AvailableCredits)
	assert.Equal(t, int64(10), notDue.UsedCredits)

	var unknown model.CreditBalance
	require.NoError(t, db.Where("user_id = ?", "due-unknown").First(&unknown).Error)
	assert.Equal(t, int64(400), unknown.AvailableCredits)

	// 每次重置都留一条发放流水
	var resetRows int64
	db.Model(&model.CreditTransaction{}).
		Where("action_type = ?", model.ActionMonthlyReset).
		Count(&resetRows)
	assert.Equal(t, int64(2), resetRows)
}

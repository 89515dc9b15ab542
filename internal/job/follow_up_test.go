package job

import (
	"context"
	"testing"
	"time"

	"inboxai/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedFollowUpEmail(t *testing.T, db *gorm.DB) *model.Email {
	t.Helper()
	email := &model.Email{
		UserID: "user-1", OrgID: "org-1", GmailMessageID: "msg-" + t.Name(),
		Subject: "报价确认", FromEmail: "alice@example.com",
		ReceivedAt: time.Now().Add(-72 * time.Hour),
	}
	require.NoError(t, db.Create(email).Error)
	return email
}

func TestProcessDue(t *testing.T) {
	db := newTestDB(t)
	j := NewFollowUpJob(db, testConfig())
	ctx := context.Background()
	now := time.Now()

	email := seedFollowUpEmail(t, db)

	due := &model.FollowUpSchedule{
		FollowUpNo: "FLW-due", EmailID: email.ID,
		UserID: "user-1", OrgID: "org-1",
		ScheduledTime:   now.Add(-time.Hour),
		FollowUpType:    model.FollowUpTypeReminder,
		TemplateMessage: "跟进一下报价进展",
		MaxRetries:      model.DefaultMaxRetries,
	}
	require.NoError(t, db.Create(due).Error)

	notDue := &model.FollowUpSchedule{
		FollowUpNo: "FLW-future", EmailID: email.ID,
		UserID: "user-1", OrgID: "org-1",
		ScheduledTime: now.Add(time.Hour),
		FollowUpType:  model.FollowUpTypeReminder,
		MaxRetries:    model.DefaultMaxRetries,
	}
	require.NoError(t, db.Create(notDue).Error)

	cancelled := &model.FollowUpSchedule{
		FollowUpNo: "FLW-cancelled", EmailID: email.ID,
		UserID: "user-1", OrgID: "org-1",
		ScheduledTime: now.Add(-time.Hour),
		FollowUpType:  model.FollowUpTypeReminder,
		IsCancelled:   true,
		MaxRetries:    model.DefaultMaxRetries,
	}
	require.NoError(t, db.Create(cancelled).Error)

	j.ProcessDue(ctx, now)

	// 只有到点且未取消的那条被派发
	var messages []*model.OutboxMessage
	require.NoError(t, db.Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, "test.follow_up", messages[0].Topic)
	assert.Equal(t, "FLW-due", messages[0].MessageKey)
	assert.Contains(t, messages[0].Payload, "Re: 报价确认")
	assert.Contains(t, messages[0].Payload, "alice@example.com")

	var saved model.FollowUpSchedule
	require.NoError(t, db.Where("follow_up_no = ?", "FLW-due").First(&saved).Error)
	assert.True(t, saved.IsCompleted)
	require.NotNil(t, saved.CompletedAt)

	// 完成后的跟进不会被二次派发
	j.ProcessDue(ctx, now)
	require.NoError(t, db.Find(&messages).Error)
	assert.Len(t, messages, 1)
}

func TestProcessDueRetryThenCancel(t *testing.T) {
	db := newTestDB(t)
	j := NewFollowUpJob(db, testConfig())
	ctx := context.Background()
	now := time.Now()

	// 原始邮件不存在，渲染必然失败
	followUp := &model.FollowUpSchedule{
		FollowUpNo: "FLW-broken", EmailID: 9999,
		UserID: "user-1", OrgID: "org-1",
		ScheduledTime: now.Add(-time.Hour),
		FollowUpType:  model.FollowUpTypeReminder,
		MaxRetries:    1,
	}
	require.NoError(t, db.Create(followUp).Error)

	j.ProcessDue(ctx, now)

	var saved model.FollowUpSchedule
	require.NoError(t, db.Where("follow_up_no = ?", "FLW-broken").First(&saved).Error)
	assert.Equal(t, 1, saved.RetryCount)
	assert.False(t, saved.IsCancelled)

	// 重试耗尽 -> 取消并记录原因
	j.ProcessDue(ctx, now)

	require.NoError(t, db.Where("follow_up_no = ?", "FLW-broken").First(&saved).Error)
	assert.True(t, saved.IsCancelled)
	assert.NotEmpty(t, saved.CancellationReason)
	require.NotNil(t, saved.CancelledAt)

	var count int64
	db.Model(&model.OutboxMessage{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

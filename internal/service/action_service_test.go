package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"inboxai/internal/model"
	"inboxai/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeAssistant 可编程的 AI 替身
type fakeAssistant struct {
	classification *Classification
	classifyErr    error
	draftBody      string
	draftErr       error
	research       string
	researchCalls  int
}

func (f *fakeAssistant) Classify(ctx context.Context, subject, body, from string) (*Classification, error) {
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return f.classification, nil
}

func (f *fakeAssistant) Draft(ctx context.Context, subject, body, from, tone string, longForm bool) (string, error) {
	if f.draftErr != nil {
		return "", f.draftErr
	}
	return f.draftBody, nil
}

func (f *fakeAssistant) Research(ctx context.Context, emailAddress string, deep bool) (string, error) {
	f.researchCalls++
	return f.research, nil
}

func newActionService(t *testing.T, db *gorm.DB, assistant Assistant) (*ActionService, *CreditService) {
	t.Helper()
	credits := NewCreditService(db)
	gate := NewGateService(credits)
	return NewActionService(db, gate, assistant), credits
}

func seedEmail(t *testing.T, db *gorm.DB, userID, orgID string) *model.Email {
	t.Helper()
	email := &model.Email{
		UserID:         userID,
		OrgID:          orgID,
		GmailMessageID: "msg-" + t.Name(),
		Subject:        "报价确认",
		FromEmail:      "alice@example.com",
		BodyPlain:      "请确认下周的报价单",
		ReceivedAt:     time.Now(),
	}
	require.NoError(t, db.Create(email).Error)
	return email
}

func TestClassifyEmail(t *testing.T) {
	db := newTestDB(t)
	assistant := &fakeAssistant{
		classification: &Classification{Category: "urgent", ActionRequired: true},
	}
	actions, credits := newActionService(t, db, assistant)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)
	email := seedEmail(t, db, "user-1", "org-1")

	result, err := actions.ClassifyEmail(ctx, "user-1", email.ID)
	require.NoError(t, err)
	assert.Equal(t, "urgent", result.Classification.Category)
	assert.Equal(t, int64(1), result.Gate.CreditsUsed)
	assert.Equal(t, int64(399), result.Gate.AvailableCredits)

	// 分类结果落库
	var saved model.Email
	require.NoError(t, db.First(&saved, email.ID).Error)
	assert.Equal(t, "urgent", saved.Category)
	assert.True(t, saved.ActionRequired)
	assert.NotNil(t, saved.ClassifiedAt)
}

func TestClassifyEmailWrongOwner(t *testing.T) {
	db := newTestDB(t)
	actions, credits := newActionService(t, db, &fakeAssistant{})
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-2", "org-1", model.TierFree)
	require.NoError(t, err)
	email := seedEmail(t, db, "user-1", "org-1")

	_, err = actions.ClassifyEmail(ctx, "user-2", email.ID)
	assert.ErrorIs(t, err, repository.ErrEmailNotFound)

	// 没碰到别人的邮件，也没扣自己的分
	balance, err := credits.GetBalance(ctx, "user-2", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance.AvailableCredits)
}

func TestClassifyEmailAIFailureStillCharged(t *testing.T) {
	db := newTestDB(t)
	assistant := &fakeAssistant{classifyErr: errors.New("模型超时")}
	actions, credits := newActionService(t, db, assistant)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)
	email := seedEmail(t, db, "user-1", "org-1")

	result, err := actions.ClassifyEmail(ctx, "user-1", email.ID)
	assert.Error(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Gate)
	assert.Equal(t, int64(1), result.Gate.CreditsUsed)

	balance, err := credits.GetBalance(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(399), balance.AvailableCredits)
}

// 篇幅在生成之前决定价格：短 3 分，长 7 分
func TestDraftResponsePricing(t *testing.T) {
	db := newTestDB(t)
	assistant := &fakeAssistant{draftBody: "好的，收到。"}
	actions, credits := newActionService(t, db, assistant)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)
	email := seedEmail(t, db, "user-1", "org-1")

	short, err := actions.DraftResponse(ctx, "user-1", email.ID, "professional", false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), short.Gate.CreditsUsed)
	assert.Equal(t, "好的，收到。", short.DraftBody)

	long, err := actions.DraftResponse(ctx, "user-1", email.ID, "professional", true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), long.Gate.CreditsUsed)

	balance, err := credits.GetBalance(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(390), balance.AvailableCredits)
}

func TestResearchSenderCache(t *testing.T) {
	db := newTestDB(t)
	assistant := &fakeAssistant{research: "Alice，某公司采购负责人"}
	actions, credits := newActionService(t, db, assistant)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)

	first, err := actions.ResearchSender(ctx, "user-1", "org-1", "alice@example.com", false)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, int64(2), first.Gate.CreditsUsed)
	assert.Equal(t, 1, assistant.researchCalls)

	// 7 天内再查：走缓存，不扣分也不调模型
	second, err := actions.ResearchSender(ctx, "user-1", "org-1", "alice@example.com", false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Nil(t, second.Gate)
	assert.Equal(t, 1, assistant.researchCalls)

	balance, err := credits.GetBalance(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(398), balance.AvailableCredits)
}

func TestResearchSenderExpiredCache(t *testing.T) {
	db := newTestDB(t)
	assistant := &fakeAssistant{research: "过期后重新调研"}
	actions, credits := newActionService(t, db, assistant)
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)

	// 8 天前的旧调研，已过 7 天缓存期
	require.NoError(t, db.Create(&model.SenderResearch{
		UserID:           "user-1",
		EmailAddress:     "bob@example.com",
		Summary:          "旧结果",
		LastResearchedAt: time.Now().Add(-8 * 24 * time.Hour),
	}).Error)

	result, err := actions.ResearchSender(ctx, "user-1", "org-1", "bob@example.com", true)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, int64(5), result.Gate.CreditsUsed) // 深度调研价格
	assert.Equal(t, 1, assistant.researchCalls)
}

func TestRunWorkflow(t *testing.T) {
	db := newTestDB(t)
	actions, credits := newActionService(t, db, &fakeAssistant{})
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)

	workflow := &model.WorkflowAutomation{
		UserID:      "user-1",
		OrgID:       "org-1",
		Name:        "自动归档",
		IsActive:    true,
		TriggerType: "email_received",
		Actions:     []byte(`[{"type":"archive"}]`),
	}
	require.NoError(t, db.Create(workflow).Error)

	result, err := actions.RunWorkflow(ctx, "user-1", "org-1", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.CreditsUsed)

	var saved model.WorkflowAutomation
	require.NoError(t, db.First(&saved, workflow.ID).Error)
	assert.Equal(t, int64(1), saved.ExecutionCount)
	assert.NotNil(t, saved.LastExecutedAt)
}

func TestCreateFollowUp(t *testing.T) {
	db := newTestDB(t)
	actions, credits := newActionService(t, db, &fakeAssistant{})
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)
	email := seedEmail(t, db, "user-1", "org-1")

	scheduledTime := time.Now().Add(48 * time.Hour)
	result, err := actions.CreateFollowUp(ctx, "user-1", email.ID, scheduledTime,
		model.FollowUpTypeReminder, "跟进一下报价进展")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Gate.CreditsUsed)
	assert.NotEmpty(t, result.FollowUp.FollowUpNo)

	var saved model.FollowUpSchedule
	require.NoError(t, db.Where("follow_up_no = ?", result.FollowUp.FollowUpNo).First(&saved).Error)
	assert.Equal(t, email.ID, saved.EmailID)
	assert.False(t, saved.IsCompleted)
}

func TestCreateFollowUpPastTime(t *testing.T) {
	db := newTestDB(t)
	actions, credits := newActionService(t, db, &fakeAssistant{})
	ctx := context.Background()

	_, err := credits.AssignTier(ctx, "user-1", "org-1", model.TierFree)
	require.NoError(t, err)
	email := seedEmail(t, db, "user-1", "org-1")

	_, err = actions.CreateFollowUp(ctx, "user-1", email.ID,
		time.Now().Add(-time.Hour), model.FollowUpTypeReminder, "")
	assert.Error(t, err)

	// 参数校验在扣费之前
	balance, err := credits.GetBalance(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance.AvailableCredits)
}

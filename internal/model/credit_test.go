package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierMonthlyCredits(t *testing.T) {
	assert.Equal(t, int64(400), TierMonthlyCredits[TierFree])
	assert.Equal(t, int64(5000), TierMonthlyCredits[TierPro])
	assert.Equal(t, int64(30000), TierMonthlyCredits[TierBusiness])
}

func TestCreditCosts(t *testing.T) {
	tests := []struct {
		actionType string
		want       int64
	}{
		{ActionEmailClassification, 1},
		{ActionEmailDraftShort, 3},
		{ActionEmailDraftLong, 7},
		{ActionResearchBasic, 2},
		{ActionResearchDeep, 5},
		{ActionFollowUpSchedule, 1},
		{ActionWorkflowRun, 2},
	}

	for _, tt := range tests {
		t.Run(tt.actionType, func(t *testing.T) {
			cost, ok := CreditCosts[tt.actionType]
			assert.True(t, ok)
			assert.Equal(t, tt.want, cost)
		})
	}
}

func TestCreditCostsExcludeReset(t *testing.T) {
	// 月度重置是发放流水，不在计费价格表里
	_, ok := CreditCosts[ActionMonthlyReset]
	assert.False(t, ok)
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"PENDING可以派发", ScheduleStatusPending, ScheduleStatusDispatched, true},
		{"PENDING可以取消", ScheduleStatusPending, ScheduleStatusCancelled, true},
		{"PENDING不能直接完成", ScheduleStatusPending, ScheduleStatusCompleted, false},
		{"DISPATCHED可以完成", ScheduleStatusDispatched, ScheduleStatusCompleted, true},
		{"DISPATCHED失败回PENDING", ScheduleStatusDispatched, ScheduleStatusPending, true},
		{"DISPATCHED可以取消", ScheduleStatusDispatched, ScheduleStatusCancelled, true},
		{"CANCELLED是终态", ScheduleStatusCancelled, ScheduleStatusPending, false},
		{"COMPLETED是终态", ScheduleStatusCompleted, ScheduleStatusDispatched, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransitionTo(tt.from, tt.to))
		})
	}
}

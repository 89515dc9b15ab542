package service

import (
	"context"
	"fmt"
	"time"

	"inboxai/internal/model"
	"inboxai/internal/repository"

	"gorm.io/gorm"
)

// ScheduleService 每日摘要调度与跟进的管理入口（创建、停用、取消）
// 派发本身在 internal/job 里，不在这里
type ScheduleService struct {
	scheduleRepo *repository.ScheduleRepository
	followUpRepo *repository.FollowUpRepository
}

func NewScheduleService(db *gorm.DB) *ScheduleService {
	return &ScheduleService{
		scheduleRepo: repository.NewScheduleRepository(db),
		followUpRepo: repository.NewFollowUpRepository(db),
	}
}

type CreateScheduleRequest struct {
	AgentID      string
	UserID       string
	OrgID        string
	Recipient    string
	ScheduleTime string // HH:MM
	Timezone     string
}

func (s *ScheduleService) CreateSchedule(ctx context.Context, req *CreateScheduleRequest) (*model.DigestSchedule, error) {
	if _, err := time.Parse("15:04", req.ScheduleTime); err != nil {
		return nil, fmt.Errorf("触发时刻格式错误，应为 HH:MM: %q", req.ScheduleTime)
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, fmt.Errorf("未知的时区: %q", req.Timezone)
	}

	schedule := &model.DigestSchedule{
		AgentID:      req.AgentID,
		UserID:       req.UserID,
		OrgID:        req.OrgID,
		Recipient:    req.Recipient,
		ScheduleTime: req.ScheduleTime,
		Timezone:     req.Timezone,
		IsActive:     true,
		Status:       model.ScheduleStatusPending,
		MaxRetries:   model.DefaultMaxRetries,
	}

	if err := s.scheduleRepo.Create(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// DeactivateSchedule 停用调度
// 已经派发出去的本轮任务会继续执行完，停用只保证后续轮次不再选中
func (s *ScheduleService) DeactivateSchedule(ctx context.Context, id int64) error {
	return s.scheduleRepo.Deactivate(ctx, id)
}

func (s *ScheduleService) CancelFollowUp(ctx context.Context, followUpNo, reason string) error {
	followUp, err := s.followUpRepo.GetByNo(ctx, followUpNo)
	if err != nil {
		return err
	}
	if followUp.IsCompleted {
		return fmt.Errorf("跟进已完成，无法取消: %s", followUpNo)
	}
	return s.followUpRepo.Cancel(ctx, followUp.ID, reason)
}

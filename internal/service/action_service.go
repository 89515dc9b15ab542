package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inboxai/internal/model"
	"inboxai/internal/repository"
	"inboxai/pkg/idgen"

	"gorm.io/gorm"
)

// researchCacheTTL 调研缓存有效期，命中缓存不扣积分
const researchCacheTTL = 7 * 24 * time.Hour

// Classification AI 分类结果
type Classification struct {
	Category       string `json:"category"`
	ActionRequired bool   `json:"action_required"`
	Reasoning      string `json:"reasoning,omitempty"`
}

// Assistant AI 协作方，对本核心是黑盒
// 具体实现（模型、提示词）在 infrastructure/ai，这里只关心出入参
type Assistant interface {
	Classify(ctx context.Context, subject, body, from string) (*Classification, error)
	Draft(ctx context.Context, subject, body, from, tone string, longForm bool) (string, error)
	Research(ctx context.Context, emailAddress string, deep bool) (string, error)
}

// ActionService 消耗积分的业务动作：分类、草拟、调研、工作流、建跟进
// 每个动作都经过 GateService 先扣费后执行
type ActionService struct {
	db           *gorm.DB
	gate         *GateService
	assistant    Assistant
	emailRepo    *repository.EmailRepository
	followUpRepo *repository.FollowUpRepository
}

func NewActionService(db *gorm.DB, gate *GateService, assistant Assistant) *ActionService {
	return &ActionService{
		db:           db,
		gate:         gate,
		assistant:    assistant,
		emailRepo:    repository.NewEmailRepository(db),
		followUpRepo: repository.NewFollowUpRepository(db),
	}
}

type ClassifyResult struct {
	Classification *Classification `json:"classification"`
	Gate           *GateResult     `json:"gate"`
}

// ClassifyEmail 对一封已入库的邮件做 AI 分类（1 积分）
func (s *ActionService) ClassifyEmail(ctx context.Context, userID string, emailID int64) (*ClassifyResult, error) {
	email, err := s.emailRepo.GetByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email.UserID != userID {
		return nil, repository.ErrEmailNotFound
	}

	var classification *Classification
	gateResult, err := s.gate.Execute(ctx, userID, email.OrgID,
		model.ActionEmailClassification,
		fmt.Sprintf("分类邮件: %s", email.Subject),
		map[string]interface{}{"email_id": email.ID},
		func(ctx context.Context) error {
			c, err := s.assistant.Classify(ctx, email.Subject, email.BodyPlain, email.FromEmail)
			if err != nil {
				return err
			}
			classification = c
			return s.emailRepo.SaveClassification(ctx, email.ID, c.Category, c.ActionRequired, time.Now())
		})
	if err != nil {
		return &ClassifyResult{Gate: gateResult}, err
	}

	return &ClassifyResult{Classification: classification, Gate: gateResult}, nil
}

type DraftResult struct {
	DraftBody string      `json:"draft_body"`
	Gate      *GateResult `json:"gate"`
}

// DraftResponse 草拟回信
// 价格按请求的篇幅定（短 3 / 长 7）：先扣费后执行的前提下，
// 价格必须在生成之前确定，不能事后按生成结果定价
func (s *ActionService) DraftResponse(ctx context.Context, userID string, emailID int64, tone string, longForm bool) (*DraftResult, error) {
	email, err := s.emailRepo.GetByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email.UserID != userID {
		return nil, repository.ErrEmailNotFound
	}

	actionType := model.ActionEmailDraftShort
	if longForm {
		actionType = model.ActionEmailDraftLong
	}

	var draftBody string
	gateResult, err := s.gate.Execute(ctx, userID, email.OrgID,
		actionType,
		fmt.Sprintf("草拟回信: %s", email.Subject),
		map[string]interface{}{"email_id": email.ID, "tone": tone},
		func(ctx context.Context) error {
			body, err := s.assistant.Draft(ctx, email.Subject, email.BodyPlain, email.FromEmail, tone, longForm)
			if err != nil {
				return err
			}
			draftBody = body
			return nil
		})
	if err != nil {
		return &DraftResult{Gate: gateResult}, err
	}

	return &DraftResult{DraftBody: draftBody, Gate: gateResult}, nil
}

type ResearchResult struct {
	Research *model.SenderResearch `json:"research"`
	Cached   bool                  `json:"cached"`
	Gate     *GateResult           `json:"gate,omitempty"`
}

// ResearchSender 调研发件人（基础 2 / 深度 5）
// 7 天内调研过的直接返回缓存，不扣费也不调 AI
func (s *ActionService) ResearchSender(ctx context.Context, userID, orgID, emailAddress string, deep bool) (*ResearchResult, error) {
	cached, err := s.emailRepo.GetResearch(ctx, userID, emailAddress)
	if err != nil {
		return nil, err
	}
	if cached != nil && time.Since(cached.LastResearchedAt) < researchCacheTTL {
		return &ResearchResult{Research: cached, Cached: true}, nil
	}

	actionType := model.ActionResearchBasic
	if deep {
		actionType = model.ActionResearchDeep
	}

	var research *model.SenderResearch
	gateResult, err := s.gate.Execute(ctx, userID, orgID,
		actionType,
		fmt.Sprintf("调研发件人: %s", emailAddress),
		nil,
		func(ctx context.Context) error {
			summary, err := s.assistant.Research(ctx, emailAddress, deep)
			if err != nil {
				return err
			}
			research = &model.SenderResearch{
				UserID:           userID,
				EmailAddress:     emailAddress,
				Summary:          summary,
				DeepResearch:     deep,
				LastResearchedAt: time.Now(),
			}
			return s.emailRepo.SaveResearch(ctx, research)
		})
	if err != nil {
		return &ResearchResult{Gate: gateResult}, err
	}

	return &ResearchResult{Research: research, Cached: false, Gate: gateResult}, nil
}

// RunWorkflow 执行一次工作流（2 积分）
func (s *ActionService) RunWorkflow(ctx context.Context, userID, orgID string, workflowID int64) (*GateResult, error) {
	workflow, err := s.emailRepo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow.UserID != userID || !workflow.IsActive {
		return nil, repository.ErrWorkflowNotFound
	}

	return s.gate.Execute(ctx, userID, orgID,
		model.ActionWorkflowRun,
		fmt.Sprintf("执行工作流: %s", workflow.Name),
		map[string]interface{}{"workflow_id": workflow.ID},
		func(ctx context.Context) error {
			return s.emailRepo.RecordWorkflowExecution(ctx, workflow.ID, time.Now())
		})
}

type CreateFollowUpResult struct {
	FollowUp *model.FollowUpSchedule `json:"follow_up"`
	Gate     *GateResult             `json:"gate"`
}

// CreateFollowUp 创建一条跟进提醒（1 积分）
func (s *ActionService) CreateFollowUp(ctx context.Context, userID string, emailID int64, scheduledTime time.Time, followUpType, templateMessage string) (*CreateFollowUpResult, error) {
	email, err := s.emailRepo.GetByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email.UserID != userID {
		return nil, repository.ErrEmailNotFound
	}
	if scheduledTime.Before(time.Now()) {
		return nil, errors.New("跟进时间不能早于当前时间")
	}

	followUp := &model.FollowUpSchedule{
		FollowUpNo:      idgen.GenerateFollowUpNo(),
		EmailID:         email.ID,
		UserID:          userID,
		OrgID:           email.OrgID,
		ScheduledTime:   scheduledTime,
		FollowUpType:    followUpType,
		TemplateMessage: templateMessage,
		MaxRetries:      model.DefaultMaxRetries,
	}

	gateResult, err := s.gate.Execute(ctx, userID, email.OrgID,
		model.ActionFollowUpSchedule,
		fmt.Sprintf("创建跟进: %s", email.Subject),
		map[string]interface{}{"email_id": email.ID},
		func(ctx context.Context) error {
			return s.followUpRepo.Create(ctx, nil, followUp)
		})
	if err != nil {
		return &CreateFollowUpResult{Gate: gateResult}, err
	}

	return &CreateFollowUpResult{FollowUp: followUp, Gate: gateResult}, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"inboxai/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrEmailNotFound    = errors.New("邮件不存在")
	ErrWorkflowNotFound = errors.New("工作流不存在")
)

// EmailRepository 邮件、发件人调研与工作流存储
type EmailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

func (r *EmailRepository) GetByID(ctx context.Context, id int64) (*model.Email, error) {
	var email model.Email
	err := r.db.WithContext(ctx).First(&email, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// CreateIfAbsent 按 (user_id, gmail_message_id) 去重入库
// 返回 true 表示这是新邮件；重复拉到的邮件直接跳过，不会二次计费
func (r *EmailRepository) CreateIfAbsent(ctx context.Context, email *model.Email) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "gmail_message_id"}},
			DoNothing: true,
		}).
		Create(email)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *EmailRepository) SaveClassification(ctx context.Context, id int64, category string, actionRequired bool, classifiedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Email{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"category":        category,
			"action_required": actionRequired,
			"classified_at":   classifiedAt,
		}).Error
}

// ListReceivedSince 摘要用：取用户某时刻之后收到的邮件
func (r *EmailRepository) ListReceivedSince(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Email, error) {
	var emails []*model.Email
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND received_at > ?", userID, since).
		Order("received_at DESC").
		Limit(limit).
		Find(&emails).Error
	return emails, err
}

func (r *EmailRepository) ListActiveAccounts(ctx context.Context) ([]*model.EmailAccount, error) {
	var accounts []*model.EmailAccount
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&accounts).Error
	return accounts, err
}

// GetResearch 查发件人调研缓存，没有返回 nil
func (r *EmailRepository) GetResearch(ctx context.Context, userID, emailAddress string) (*model.SenderResearch, error) {
	var research model.SenderResearch
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND email_address = ?", userID, emailAddress).
		First(&research).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &research, nil
}

func (r *EmailRepository) SaveResearch(ctx context.Context, research *model.SenderResearch) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "email_address"}},
			UpdateAll: true,
		}).
		Create(research).Error
}

func (r *EmailRepository) GetWorkflow(ctx context.Context, id int64) (*model.WorkflowAutomation, error) {
	var workflow model.WorkflowAutomation
	err := r.db.WithContext(ctx).First(&workflow, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return &workflow, nil
}

func (r *EmailRepository) RecordWorkflowExecution(ctx context.Context, id int64, executedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.WorkflowAutomation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"execution_count":  gorm.Expr("execution_count + 1"),
			"last_executed_at": executedAt,
		}).Error
}

package service

import (
	"context"
	"fmt"

	"inboxai/internal/model"
)

// GateService 计费闸门：所有消耗积分的动作都从这里过
//
// 【关键点】先扣费后执行，执行失败不退费：
// 1. 价格只认 model.CreditCosts 静态表，调用方不能自报价格
// 2. 扣费成功才执行动作，积分不足时动作根本不会开始
// 3. 动作失败后不自动退费 —— 退费需要第二次原子操作，自带
//    "退费后崩溃"的歧义；动作本身幂等且便宜，重试的代价远小于
//    账本出现分叉的代价。异常情况走人工调账
//
// 这个顺序保证动作执行中途崩溃也绕不过账本
type GateService struct {
	credits *CreditService
}

func NewGateService(credits *CreditService) *GateService {
	return &GateService{credits: credits}
}

// GateResult 计费结果，动作失败时依然有值（费已扣）
type GateResult struct {
	CreditsUsed      int64 `json:"credits_used"`
	AvailableCredits int64 `json:"available_credits"`
}

// Execute 对 action 计费并执行
//
// 返回值约定：
//   - 积分不足：result 为 nil，err 为 repository.ErrInsufficientCredits，action 未执行
//   - 扣费成功、action 失败：result 非 nil（扣费已发生），err 为 action 的错误
//   - 都成功：result 非 nil，err 为 nil
func (g *GateService) Execute(ctx context.Context, userID, orgID, actionType, description string, metadata map[string]interface{}, action func(ctx context.Context) error) (*GateResult, error) {
	cost, ok := model.CreditCosts[actionType]
	if !ok {
		return nil, fmt.Errorf("未知的动作类型: %s", actionType)
	}

	balance, err := g.credits.TryDeduct(ctx, userID, orgID, cost, actionType, description, metadata)
	if err != nil {
		return nil, err
	}

	result := &GateResult{
		CreditsUsed:      cost,
		AvailableCredits: balance.AvailableCredits,
	}

	// 扣费已提交，从这里开始的失败不再回滚账本
	if err := action(ctx); err != nil {
		return result, err
	}

	return result, nil
}

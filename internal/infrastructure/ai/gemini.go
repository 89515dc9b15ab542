package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"inboxai/internal/service"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiAssistant 基于 Gemini 的 AI 协作方实现
// 对核心来说这里只是一个会失败的外部调用，提示词细节不影响计费语义
type GeminiAssistant struct {
	client    *genai.Client
	modelName string
}

func NewGeminiAssistant(ctx context.Context, apiKey, modelName string) (*GeminiAssistant, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiAssistant{client: client, modelName: modelName}, nil
}

func (a *GeminiAssistant) Close() error {
	return a.client.Close()
}

func (a *GeminiAssistant) Classify(ctx context.Context, subject, body, from string) (*service.Classification, error) {
	prompt := fmt.Sprintf(`把下面这封邮件分类为 urgent、fyi 或 archive 三类之一，
只返回 JSON，格式 {"category":"...","action_required":true|false,"reasoning":"..."}。
发件人: %s
主题: %s
正文: %s`, from, subject, truncate(body, 2000))

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	classification := &service.Classification{}
	if err := json.Unmarshal([]byte(extractJSON(text)), classification); err != nil {
		return nil, fmt.Errorf("解析分类结果失败: %w", err)
	}
	return classification, nil
}

func (a *GeminiAssistant) Draft(ctx context.Context, subject, body, from, tone string, longForm bool) (string, error) {
	length := "不超过 300 字"
	if longForm {
		length = "可以写长，给出完整展开"
	}
	prompt := fmt.Sprintf(`替我草拟一封回信，语气 %s，%s。只返回正文。
发件人: %s
主题: %s
正文: %s`, tone, length, from, subject, truncate(body, 2000))

	return a.generate(ctx, prompt)
}

func (a *GeminiAssistant) Research(ctx context.Context, emailAddress string, deep bool) (string, error) {
	depth := "给出一段简短的背景概述"
	if deep {
		depth = "尽可能详细：公司、职位、社交资料、近期动态"
	}
	prompt := fmt.Sprintf("调研邮箱地址 %s 背后的发件人，%s。", emailAddress, depth)

	return a.generate(ctx, prompt)
}

func (a *GeminiAssistant) generate(ctx context.Context, prompt string) (string, error) {
	model := a.client.GenerativeModel(a.modelName)
	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("调用模型失败: %w", err)
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", fmt.Errorf("模型返回空结果")
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// extractJSON 模型偶尔会在 JSON 外面包一层 markdown 代码块，剥掉
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

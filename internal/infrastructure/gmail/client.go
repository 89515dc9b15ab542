package gmail

import (
	"context"
	"fmt"
	"time"

	"inboxai/internal/job"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Fetcher 基于 Gmail API 的邮件拉取实现
// 每个账号持有各自的 refresh token，拉取时按 token 换取访问令牌
type Fetcher struct {
	oauthConfig *oauth2.Config
}

func NewFetcher(clientID, clientSecret string) *Fetcher {
	return &Fetcher{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
		},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, refreshToken string, since time.Time) ([]*job.IncomingEmail, error) {
	tokenSource := f.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("创建 Gmail 服务失败: %w", err)
	}

	// Gmail 的 after: 查询只精确到秒
	query := fmt.Sprintf("in:inbox after:%d", since.Unix())
	listRes, err := svc.Users.Messages.List("me").Q(query).MaxResults(100).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("拉取邮件列表失败: %w", err)
	}

	emails := make([]*job.IncomingEmail, 0, len(listRes.Messages))
	for _, ref := range listRes.Messages {
		msg, err := svc.Users.Messages.Get("me", ref.Id).Format("metadata").
			MetadataHeaders("Subject", "From", "To").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("读取邮件 %s 失败: %w", ref.Id, err)
		}
		emails = append(emails, convert(msg))
	}
	return emails, nil
}

func convert(msg *gmailapi.Message) *job.IncomingEmail {
	email := &job.IncomingEmail{
		MessageID:  msg.Id,
		ThreadID:   msg.ThreadId,
		Body:       msg.Snippet,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}
	if msg.Payload == nil {
		return email
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			email.Subject = h.Value
		case "From":
			email.From = h.Value
		case "To":
			email.To = h.Value
		}
	}
	return email
}

package llm

import (
	"context"
	"fmt"

	"github.com/Morwran/yagpt"

	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
)

// YandexClient talks to YandexGPT. It is text only: image parts are dropped
// and streaming is emulated with a single chunk.
type YandexClient struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	if oauthToken == "" || folderID == "" {
		return nil, fmt.Errorf("yandex: %w", ErrMissingCredentials)
	}
	// Create IAM token from OAuth token
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}

	// Create YaGPT client for a folder
	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	return &YandexClient{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (c *YandexClient) StartChat(_ context.Context, cfg settings.Config, history []session.Turn) (Conversation, error) {
	var msgs []yagpt.Message
	if cfg.SystemInstruction != "" {
		msgs = append(msgs, yagpt.Message{Role: "system", Content: cfg.SystemInstruction})
	}
	for _, t := range history {
		msgs = append(msgs, yandexMessage(t.Role, t.Parts))
	}
	return &yandexConversation{client: c, messages: msgs}, nil
}

func (c *YandexClient) ListModels(context.Context) ([]string, error) {
	return []string{yagpt.YaModelLite}, nil
}

func (c *YandexClient) Close() error { return nil }

type yandexConversation struct {
	client   *YandexClient
	messages []yagpt.Message
}

func (y *yandexConversation) Send(ctx context.Context, parts []session.Part) (*Response, error) {
	user := yandexMessage(session.RoleUser, parts)
	if n := (session.Turn{Parts: parts}).ImageCount(); n > 0 {
		logger.Warnf("yandexgpt: dropping %d image part(s)", n)
	}
	msgs := append(append([]yagpt.Message(nil), y.messages...), user)

	resp, err := y.client.ya.CompletionWithCtx(ctx, y.client.iamToken, msgs)
	if err != nil {
		return nil, fmt.Errorf("yagpt completion failed: %w", err)
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return nil, fmt.Errorf("yagpt returned empty response")
	}
	out := &Response{Model: yagpt.YaModelLite}
	for i, alt := range resp.Alternatives {
		out.Candidates = append(out.Candidates, Candidate{Index: i, Parts: []string{alt.Message.Content}})
	}
	out.Usage = &Usage{
		PromptTokens: int(resp.Usage.InputTextTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	y.messages = append(msgs, yagpt.Message{Role: "assistant", Content: out.Text()})
	return out, nil
}

func (y *yandexConversation) SendStream(ctx context.Context, parts []session.Part) (Stream, error) {
	resp, err := y.Send(ctx, parts)
	if err != nil {
		return nil, err
	}
	return SingleResponse(resp), nil
}

func yandexMessage(role session.Role, parts []session.Part) yagpt.Message {
	r := "user"
	if role == session.RoleAssistant {
		r = "assistant"
	}
	return yagpt.Message{Role: r, Content: joinText(parts)}
}

package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/sashabaranov/go-openai"

	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
)

type OpenAIClient struct {
	client *openai.Client
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewOpenAI(apiKey, baseURL, referrer, title string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingCredentials)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	// Inject optional headers (useful for OpenRouter)
	if referrer != "" || title != "" {
		h := http.Header{}
		if referrer != "" {
			h.Set("HTTP-Referer", referrer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: http.DefaultTransport, headers: h}}
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}, nil
}

func (c *OpenAIClient) StartChat(_ context.Context, cfg settings.Config, history []session.Turn) (Conversation, error) {
	if cfg.ModelName == "" {
		return nil, settings.ErrEmptyModel
	}
	var msgs []openai.ChatCompletionMessage
	if cfg.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: cfg.SystemInstruction})
	}
	for _, t := range history {
		msgs = append(msgs, openAIMessage(t.Role, t.Parts))
	}
	return &openAIConversation{client: c.client, cfg: cfg, messages: msgs}, nil
}

func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list openai models: %w", err)
	}
	out := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, m.ID)
	}
	sort.Strings(out)
	return out, nil
}

func (c *OpenAIClient) Close() error { return nil }

// openAIConversation keeps the message list locally; a turn is committed to
// it only after a complete reply.
type openAIConversation struct {
	client   *openai.Client
	cfg      settings.Config
	messages []openai.ChatCompletionMessage
}

func (o *openAIConversation) request(parts []session.Part) openai.ChatCompletionRequest {
	msgs := append(append([]openai.ChatCompletionMessage(nil), o.messages...), openAIMessage(session.RoleUser, parts))
	return openai.ChatCompletionRequest{
		Model:       o.cfg.ModelName,
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
		TopP:        o.cfg.TopP,
		MaxTokens:   int(o.cfg.MaxOutputTokens),
	}
}

func (o *openAIConversation) commit(parts []session.Part, reply string) {
	o.messages = append(o.messages,
		openAIMessage(session.RoleUser, parts),
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
}

func (o *openAIConversation) Send(ctx context.Context, parts []session.Part) (*Response, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(parts))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	out := &Response{Model: resp.Model}
	for _, ch := range resp.Choices {
		out.Candidates = append(out.Candidates, Candidate{
			Index:        ch.Index,
			Parts:        []string{ch.Message.Content},
			FinishReason: openAIFinishReason(ch.FinishReason),
		})
	}
	out.Usage = &Usage{
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	o.commit(parts, out.Text())
	return out, nil
}

func (o *openAIConversation) SendStream(ctx context.Context, parts []session.Part) (Stream, error) {
	req := o.request(parts)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	st, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
	}
	var s Stream
	s = NewStream(func() (*Response, error) {
		r, err := st.Recv()
		if errors.Is(err, io.EOF) {
			o.commit(parts, s.Response().Text())
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream: %w", err)
		}
		return fromOpenAIChunk(r), nil
	}, st.Close)
	return s, nil
}

func fromOpenAIChunk(r openai.ChatCompletionStreamResponse) *Response {
	out := &Response{Model: r.Model}
	for _, ch := range r.Choices {
		cand := Candidate{Index: ch.Index, FinishReason: openAIFinishReason(ch.FinishReason)}
		if ch.Delta.Content != "" {
			cand.Parts = []string{ch.Delta.Content}
		}
		out.Candidates = append(out.Candidates, cand)
	}
	if r.Usage != nil {
		out.Usage = &Usage{
			PromptTokens: r.Usage.PromptTokens,
			OutputTokens: r.Usage.CompletionTokens,
			TotalTokens:  r.Usage.TotalTokens,
		}
	}
	return out
}

func openAIMessage(role session.Role, parts []session.Part) openai.ChatCompletionMessage {
	r := openai.ChatMessageRoleUser
	if role == session.RoleAssistant {
		r = openai.ChatMessageRoleAssistant
	}
	hasImage := false
	for _, p := range parts {
		if _, ok := p.(session.Image); ok {
			hasImage = true
		}
	}
	if !hasImage {
		return openai.ChatCompletionMessage{Role: r, Content: joinText(parts)}
	}
	msg := openai.ChatCompletionMessage{Role: r}
	for _, p := range parts {
		switch v := p.(type) {
		case session.Text:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: string(v),
			})
		case session.Image:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: "data:" + v.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(v.Data),
				},
			})
		}
	}
	return msg
}

func openAIFinishReason(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonStop:
		return "STOP"
	case openai.FinishReasonLength:
		return "MAX_TOKENS"
	case openai.FinishReasonContentFilter:
		return "SAFETY"
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "OTHER"
	default:
		return ""
	}
}

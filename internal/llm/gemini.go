package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
)

type GeminiClient struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingCredentials)
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to init gemini client: %w", err)
	}
	return &GeminiClient{client: c}, nil
}

func (c *GeminiClient) StartChat(_ context.Context, cfg settings.Config, history []session.Turn) (Conversation, error) {
	if cfg.ModelName == "" {
		return nil, settings.ErrEmptyModel
	}
	m := c.client.GenerativeModel(cfg.ModelName)
	configureGeminiModel(m, cfg)
	cs := m.StartChat()
	cs.History = geminiHistory(history)
	return &geminiConversation{cs: cs, model: cfg.ModelName}, nil
}

// ListModels returns the gemini models that support generateContent, sorted.
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	it := c.client.ListModels(ctx)
	var out []string
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gemini models: %w", err)
		}
		if !supportsGenerate(m.SupportedGenerationMethods) || !strings.Contains(m.Name, "gemini") {
			continue
		}
		out = append(out, strings.TrimPrefix(m.Name, "models/"))
	}
	sort.Strings(out)
	return out, nil
}

func supportsGenerate(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

func (c *GeminiClient) Close() error { return c.client.Close() }

func configureGeminiModel(m *genai.GenerativeModel, cfg settings.Config) {
	m.SetTemperature(cfg.Temperature)
	m.SetTopP(cfg.TopP)
	m.SetTopK(cfg.TopK)
	m.SetMaxOutputTokens(cfg.MaxOutputTokens)
	if cfg.SystemInstruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(cfg.SystemInstruction)}}
	}
	m.SafetySettings = nil
	for _, cat := range cfg.SortedCategories() {
		hc, ok := geminiCategories[cat]
		if !ok {
			continue
		}
		m.SafetySettings = append(m.SafetySettings, &genai.SafetySetting{
			Category:  hc,
			Threshold: geminiThresholds[cfg.SafetyThresholds[cat]],
		})
	}
}

type geminiConversation struct {
	cs    *genai.ChatSession
	model string
}

func (g *geminiConversation) Send(ctx context.Context, parts []session.Part) (*Response, error) {
	resp, err := g.cs.SendMessage(ctx, geminiParts(parts)...)
	if err != nil {
		return nil, fmt.Errorf("gemini send: %w", err)
	}
	return fromGemini(resp, g.model), nil
}

func (g *geminiConversation) SendStream(ctx context.Context, parts []session.Part) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := g.cs.SendMessageStream(ctx, geminiParts(parts)...)
	return NewStream(func() (*Response, error) {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		return fromGemini(resp, g.model), nil
	}, func() error {
		cancel()
		return nil
	}), nil
}

func geminiHistory(turns []session.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == session.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: geminiParts(t.Parts)})
	}
	return out
}

func geminiParts(parts []session.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case session.Text:
			out = append(out, genai.Text(string(v)))
		case session.Image:
			out = append(out, genai.Blob{MIMEType: v.MIMEType, Data: v.Data})
		}
	}
	return out
}

func fromGemini(resp *genai.GenerateContentResponse, model string) *Response {
	out := &Response{Model: model}
	if resp == nil {
		return out
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		cand := Candidate{
			Index:         int(c.Index),
			FinishReason:  geminiFinishReasons[c.FinishReason],
			SafetyRatings: fromGeminiRatings(c.SafetyRatings),
			TokenCount:    int(c.TokenCount),
		}
		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if t, ok := p.(genai.Text); ok {
					cand.Parts = append(cand.Parts, string(t))
				}
			}
		}
		out.Candidates = append(out.Candidates, cand)
	}
	if pf := resp.PromptFeedback; pf != nil {
		out.PromptFeedback = &PromptFeedback{
			BlockReason:   geminiBlockReasons[pf.BlockReason],
			SafetyRatings: fromGeminiRatings(pf.SafetyRatings),
		}
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &Usage{
			PromptTokens: int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out
}

func fromGeminiRatings(in []*genai.SafetyRating) []SafetyRating {
	var out []SafetyRating
	for _, r := range in {
		if r == nil {
			continue
		}
		out = append(out, SafetyRating{
			Category:    geminiCategoryNames[r.Category],
			Probability: geminiProbabilities[r.Probability],
		})
	}
	return out
}

var geminiCategories = map[settings.HarmCategory]genai.HarmCategory{
	settings.HarmCategoryHarassment:       genai.HarmCategoryHarassment,
	settings.HarmCategoryHateSpeech:       genai.HarmCategoryHateSpeech,
	settings.HarmCategorySexuallyExplicit: genai.HarmCategorySexuallyExplicit,
	settings.HarmCategoryDangerousContent: genai.HarmCategoryDangerousContent,
}

var geminiCategoryNames = map[genai.HarmCategory]string{
	genai.HarmCategoryHarassment:       string(settings.HarmCategoryHarassment),
	genai.HarmCategoryHateSpeech:       string(settings.HarmCategoryHateSpeech),
	genai.HarmCategorySexuallyExplicit: string(settings.HarmCategorySexuallyExplicit),
	genai.HarmCategoryDangerousContent: string(settings.HarmCategoryDangerousContent),
}

var geminiThresholds = map[settings.Threshold]genai.HarmBlockThreshold{
	settings.ThresholdUnspecified: genai.HarmBlockUnspecified,
	settings.BlockLowAndAbove:     genai.HarmBlockLowAndAbove,
	settings.BlockMediumAndAbove:  genai.HarmBlockMediumAndAbove,
	settings.BlockOnlyHigh:        genai.HarmBlockOnlyHigh,
	settings.BlockNone:            genai.HarmBlockNone,
}

var geminiProbabilities = map[genai.HarmProbability]string{
	genai.HarmProbabilityNegligible: "NEGLIGIBLE",
	genai.HarmProbabilityLow:        "LOW",
	genai.HarmProbabilityMedium:     "MEDIUM",
	genai.HarmProbabilityHigh:       "HIGH",
}

var geminiFinishReasons = map[genai.FinishReason]string{
	genai.FinishReasonStop:       "STOP",
	genai.FinishReasonMaxTokens:  "MAX_TOKENS",
	genai.FinishReasonSafety:     "SAFETY",
	genai.FinishReasonRecitation: "RECITATION",
	genai.FinishReasonOther:      "OTHER",
}

var geminiBlockReasons = map[genai.BlockReason]string{
	genai.BlockReasonSafety: "SAFETY",
	genai.BlockReasonOther:  "OTHER",
}

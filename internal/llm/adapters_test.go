package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
)

func TestConfigureGeminiModel(t *testing.T) {
	cfg := settings.Default()
	cfg.SafetyThresholds[settings.HarmCategoryHateSpeech] = settings.BlockOnlyHigh
	cfg.SystemInstruction = "be brief"

	m := &genai.GenerativeModel{}
	configureGeminiModel(m, cfg)

	require.NotNil(t, m.Temperature)
	assert.InDelta(t, 0.7, *m.Temperature, 1e-6)
	assert.Equal(t, int32(40), *m.TopK)
	assert.Equal(t, int32(2048), *m.MaxOutputTokens)
	require.NotNil(t, m.SystemInstruction)
	assert.Equal(t, genai.Text("be brief"), m.SystemInstruction.Parts[0])

	require.Len(t, m.SafetySettings, 4)
	got := map[genai.HarmCategory]genai.HarmBlockThreshold{}
	for _, s := range m.SafetySettings {
		got[s.Category] = s.Threshold
	}
	assert.Equal(t, genai.HarmBlockOnlyHigh, got[genai.HarmCategoryHateSpeech])
	assert.Equal(t, genai.HarmBlockNone, got[genai.HarmCategoryHarassment])
}

func TestGeminiHistoryRolesAndParts(t *testing.T) {
	h := geminiHistory([]session.Turn{
		{Role: session.RoleUser, Parts: []session.Part{session.Image{MIMEType: "image/png", Data: []byte{1}}, session.Text("what?")}},
		{Role: session.RoleAssistant, Parts: []session.Part{session.Text("a dot")}},
	})
	require.Len(t, h, 2)
	assert.Equal(t, "user", h[0].Role)
	assert.Equal(t, genai.Blob{MIMEType: "image/png", Data: []byte{1}}, h[0].Parts[0])
	assert.Equal(t, genai.Text("what?"), h[0].Parts[1])
	assert.Equal(t, "model", h[1].Role)
}

func TestFromGemini(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Index:        0,
			Content:      &genai.Content{Parts: []genai.Part{genai.Text("Hi"), genai.Text(" there")}},
			FinishReason: genai.FinishReasonStop,
			SafetyRatings: []*genai.SafetyRating{
				{Category: genai.HarmCategoryHarassment, Probability: genai.HarmProbabilityNegligible},
			},
			TokenCount: 2,
		}},
		PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonUnspecified},
		UsageMetadata:  &genai.UsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 2, TotalTokenCount: 5},
	}

	out := fromGemini(resp, "gemini-1.5-pro-latest")
	assert.Equal(t, "Hi there", out.Text())
	assert.Equal(t, "STOP", out.Candidates[0].FinishReason)
	assert.Equal(t, []SafetyRating{{Category: "HARM_CATEGORY_HARASSMENT", Probability: "NEGLIGIBLE"}}, out.Candidates[0].SafetyRatings)
	assert.Equal(t, "", out.PromptFeedback.BlockReason, "unspecified stays empty for the normalizer")
	assert.Equal(t, &Usage{PromptTokens: 3, OutputTokens: 2, TotalTokens: 5}, out.Usage)

	empty := fromGemini(nil, "m")
	assert.Empty(t, empty.Candidates)
	assert.Nil(t, empty.Usage)
}

func TestOpenAIMessageWithImage(t *testing.T) {
	msg := openAIMessage(session.RoleUser, []session.Part{
		session.Image{MIMEType: "image/png", Data: []byte("png")},
		session.Text("describe"),
	})
	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, "data:image/png;base64,cG5n", msg.MultiContent[0].ImageURL.URL)
	assert.Equal(t, "describe", msg.MultiContent[1].Text)

	plain := openAIMessage(session.RoleAssistant, []session.Part{session.Text("ok")})
	assert.Equal(t, openai.ChatMessageRoleAssistant, plain.Role)
	assert.Equal(t, "ok", plain.Content)
}

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewOpenAI("test-key", srv.URL+"/v1", "https://example.org", "chatter")
	require.NoError(t, err)
	return c
}

func TestOpenAISendCommitsHistory(t *testing.T) {
	var requests []openai.ChatCompletionRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://example.org", r.Header.Get("HTTP-Referer"))
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"length"}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`)
	})

	cfg := settings.Default()
	cfg.ModelName = "gpt-4o-mini"
	conv, err := c.StartChat(context.Background(), cfg, nil)
	require.NoError(t, err)

	resp, err := conv.Send(context.Background(), []session.Part{session.Text("ping")})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text())
	assert.Equal(t, "MAX_TOKENS", resp.Candidates[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	_, err = conv.Send(context.Background(), []session.Part{session.Text("again")})
	require.NoError(t, err)
	require.Len(t, requests, 2)
	// system, ping, pong, again
	require.Len(t, requests[1].Messages, 4)
	assert.Equal(t, "pong", requests[1].Messages[2].Content)
}

func TestOpenAIStream(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, data := range []string{
			`{"id":"1","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Hi"}}]}`,
			`{"id":"1","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`,
			`{"id":"1","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	cfg := settings.Default()
	cfg.ModelName = "gpt-4o-mini"
	conv, err := c.StartChat(context.Background(), cfg, nil)
	require.NoError(t, err)
	st, err := conv.SendStream(context.Background(), []session.Part{session.Text("Hello")})
	require.NoError(t, err)
	defer st.Close()

	var deltas []string
	for {
		ch, err := st.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		deltas = append(deltas, ch.Delta)
	}
	assert.Equal(t, []string{"Hi", " there"}, deltas)
	resp := st.Response()
	assert.Equal(t, "Hi there", resp.Text())
	assert.Equal(t, "STOP", resp.Candidates[0].FinishReason)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Len(t, conv.(*openAIConversation).messages, 3)
}

func TestFactoryMissingCredentials(t *testing.T) {
	f := &Factory{}
	for _, p := range []string{ProviderGemini, ProviderOpenAI, ProviderYandex} {
		_, err := f.CreateClient(context.Background(), p)
		assert.ErrorIs(t, err, ErrMissingCredentials, p)
	}
	_, err := f.CreateClient(context.Background(), "llama")
	assert.Error(t, err)
}

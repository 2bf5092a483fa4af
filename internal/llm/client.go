package llm

import (
	"context"
	"errors"
	"strings"

	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
)

var ErrMissingCredentials = errors.New("llm credentials are not configured")

// Response is a provider-neutral generation result. Enumerations carry the
// provider's canonical names; anything absent is left empty.
type Response struct {
	Candidates     []Candidate
	PromptFeedback *PromptFeedback
	Usage          *Usage
	Model          string
}

type Candidate struct {
	Index         int
	Parts         []string
	FinishReason  string
	SafetyRatings []SafetyRating
	TokenCount    int
}

type SafetyRating struct {
	Category    string
	Probability string
}

type PromptFeedback struct {
	BlockReason   string
	SafetyRatings []SafetyRating
}

type Usage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// Text returns the joined text of the first candidate.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return strings.Join(r.Candidates[0].Parts, "")
}

// joinText concatenates the text parts of a message for text-only providers.
func joinText(parts []session.Part) string {
	var texts []string
	for _, p := range parts {
		if t, ok := p.(session.Text); ok {
			texts = append(texts, string(t))
		}
	}
	return strings.Join(texts, "\n")
}

// Conversation is a remote chat bound to one settings snapshot and history.
type Conversation interface {
	Send(ctx context.Context, parts []session.Part) (*Response, error)
	SendStream(ctx context.Context, parts []session.Part) (Stream, error)
}

type Client interface {
	StartChat(ctx context.Context, cfg settings.Config, history []session.Turn) (Conversation, error)
	ListModels(ctx context.Context) ([]string, error)
	Close() error
}

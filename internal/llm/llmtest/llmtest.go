// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"io"
	"strings"
	"sync"

	"gemini-chatter/internal/llm"
	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
)

// Reply scripts one call. Chunks are streamed in order; Err, if set, is
// returned after them.
type Reply struct {
	Chunks []string
	Err    error
	// FinishReason defaults to STOP.
	FinishReason string
}

// Start records one StartChat call.
type Start struct {
	Config  settings.Config
	History []session.Turn
}

// Client replays Replies in order. With no scripted reply left it answers
// "echo: <text>".
type Client struct {
	mu       sync.Mutex
	Replies  []Reply
	Models   []string
	StartErr error

	Starts []Start
	Sent   [][]session.Part
}

func (c *Client) StartChat(_ context.Context, cfg settings.Config, history []session.Turn) (llm.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	c.Starts = append(c.Starts, Start{Config: cfg, History: history})
	return &conversation{client: c, model: cfg.ModelName}, nil
}

func (c *Client) ListModels(context.Context) ([]string, error) {
	return append([]string(nil), c.Models...), nil
}

func (c *Client) Close() error { return nil }

// StartCount is the number of remote chats created so far.
func (c *Client) StartCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Starts)
}

func (c *Client) next(parts []session.Part) Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, parts)
	if len(c.Replies) == 0 {
		return Reply{Chunks: []string{"echo: " + session.Turn{Parts: parts}.PrimaryText()}}
	}
	r := c.Replies[0]
	c.Replies = c.Replies[1:]
	return r
}

type conversation struct {
	client *Client
	model  string
}

func (cv *conversation) piece(text, finish string) *llm.Response {
	return &llm.Response{
		Model:      cv.model,
		Candidates: []llm.Candidate{{Parts: []string{text}, FinishReason: finish}},
	}
}

func (cv *conversation) Send(_ context.Context, parts []session.Part) (*llm.Response, error) {
	r := cv.client.next(parts)
	if r.Err != nil {
		return nil, r.Err
	}
	resp := cv.piece(strings.Join(r.Chunks, ""), finish(r))
	resp.Usage = usage(parts, r.Chunks)
	return resp, nil
}

func (cv *conversation) SendStream(_ context.Context, parts []session.Part) (llm.Stream, error) {
	r := cv.client.next(parts)
	i := 0
	return llm.NewStream(func() (*llm.Response, error) {
		if i < len(r.Chunks) {
			i++
			p := cv.piece(r.Chunks[i-1], "")
			if i == len(r.Chunks) && r.Err == nil {
				p.Candidates[0].FinishReason = finish(r)
				p.Usage = usage(parts, r.Chunks)
			}
			return p, nil
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return nil, io.EOF
	}, nil), nil
}

func finish(r Reply) string {
	if r.FinishReason != "" {
		return r.FinishReason
	}
	return "STOP"
}

func usage(parts []session.Part, chunks []string) *llm.Usage {
	in := len(parts)
	out := len(chunks)
	return &llm.Usage{PromptTokens: in, OutputTokens: out, TotalTokens: in + out}
}

package storage

import (
	"context"
	"time"

	"gemini-chatter/internal/response"
	"gemini-chatter/internal/settings"
)

// Request is the request side of one logged call: the settings snapshot the
// call was made with plus what the user sent.
type Request struct {
	settings.Snapshot
	Prompt string `json:"prompt"`
	Images int    `json:"images"`
	Stream bool   `json:"stream"`
}

// Outcome is either a normalised response body or a failure description. A
// failed streamed call may still carry the partial body received so far.
type Outcome struct {
	Success bool             `json:"success"`
	Body    *response.Record `json:"body,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func Succeeded(rec response.Record) Outcome {
	body := rec.Clone()
	return Outcome{Success: true, Body: &body}
}

func Failed(err error, partial *response.Record) Outcome {
	out := Outcome{Success: false}
	if partial != nil {
		body := partial.Clone()
		out.Body = &body
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// Entry is one request/response exchange. Entries are never modified after
// they are recorded.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Request   Request   `json:"request"`
	Response  Outcome   `json:"response"`
}

// Clone returns a deep copy of e, including the response body and the
// safety settings of the request snapshot.
func (e Entry) Clone() Entry {
	out := e
	if e.Request.SafetySettings != nil {
		out.Request.SafetySettings = make(map[string]string, len(e.Request.SafetySettings))
		for k, v := range e.Request.SafetySettings {
			out.Request.SafetySettings[k] = v
		}
	}
	if e.Response.Body != nil {
		body := e.Response.Body.Clone()
		out.Response.Body = &body
	}
	return out
}

// Recorder mirrors entries to durable storage.
// LoadInteractions should return entries in chronological order.
// AppendInteraction should atomically append a new entry.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(ctx context.Context, e Entry) error
	LoadInteractions(ctx context.Context) ([]Entry, error)
}

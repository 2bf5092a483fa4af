package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "text", "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Ext is the file extension used for exports in this format.
func (f Format) Ext() string {
	if f == FormatText {
		return "txt"
	}
	return "json"
}

func (f Format) MIMEType() string {
	if f == FormatText {
		return "text/plain"
	}
	return "application/json"
}

// Log is the append-only interaction log of one session. Not safe for
// concurrent use.
type Log struct {
	sessionID string
	entries   []Entry
}

func NewLog(sessionID string) *Log {
	return &Log{sessionID: sessionID}
}

// Record appends an entry and returns it.
func (l *Log) Record(req Request, out Outcome, at time.Time) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		SessionID: l.sessionID,
		Timestamp: at.UTC(),
		Request:   req,
		Response:  out,
	}
	l.entries = append(l.entries, e.Clone())
	return e
}

func (l *Log) Len() int { return len(l.entries) }

// Entries returns deep copies of the entries in call order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Export serialises the whole log. It does not modify the log, so repeated
// exports are byte-identical.
func (l *Log) Export(f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		entries := l.entries
		if entries == nil {
			entries = []Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode log: %w", err)
		}
		return data, nil
	case FormatText:
		return []byte(l.text()), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
}

func (l *Log) text() string {
	var b strings.Builder
	for _, e := range l.entries {
		fmt.Fprintf(&b, "# %s %s\n", e.Timestamp.Format(time.RFC3339), e.Request.ModelName)
		b.WriteString("[User]\n")
		b.WriteString(e.Request.Prompt)
		if e.Request.Images > 0 {
			fmt.Fprintf(&b, "\n(%d image(s) attached)", e.Request.Images)
		}
		b.WriteString("\n\n[AI]\n")
		switch {
		case e.Response.Success && e.Response.Body != nil:
			b.WriteString(e.Response.Body.Text())
		case !e.Response.Success:
			fmt.Fprintf(&b, "[error] %s", e.Response.Error)
		}
		b.WriteString("\n\n---\n")
	}
	return b.String()
}

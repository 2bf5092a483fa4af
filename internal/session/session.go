package session

import (
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

var (
	ErrInvalidRole     = errors.New("invalid role")
	ErrEmptyParts      = errors.New("turn has no parts")
	ErrIndexOutOfRange = errors.New("turn index out of range")
)

// Part is one content unit of a turn. The only implementations are Text and Image.
type Part interface {
	isPart()
}

type Text string

// Image is raw image bytes with their MIME type, e.g. "image/png".
type Image struct {
	MIMEType string
	Data     []byte
}

func (Text) isPart()  {}
func (Image) isPart() {}

type Turn struct {
	Role  Role
	Parts []Part
}

// PrimaryText returns the first Text part, or "" when the turn has none.
func (t Turn) PrimaryText() string {
	for _, p := range t.Parts {
		if txt, ok := p.(Text); ok {
			return string(txt)
		}
	}
	return ""
}

// ImageCount reports how many Image parts the turn carries.
func (t Turn) ImageCount() int {
	n := 0
	for _, p := range t.Parts {
		if _, ok := p.(Image); ok {
			n++
		}
	}
	return n
}

func (t Turn) clone() Turn {
	out := Turn{Role: t.Role, Parts: make([]Part, len(t.Parts))}
	for i, p := range t.Parts {
		out.Parts[i] = clonePart(p)
	}
	return out
}

func clonePart(p Part) Part {
	switch v := p.(type) {
	case Text:
		return v
	case Image:
		data := make([]byte, len(v.Data))
		copy(data, v.Data)
		return Image{MIMEType: v.MIMEType, Data: data}
	default:
		panic(fmt.Sprintf("session: unknown part type %T", p))
	}
}

// Model is the ordered turn log of one conversation. Turns may be edited or
// deleted after the fact; any such change sets the dirty flag so the owner
// knows the remote chat must be rebuilt. Not safe for concurrent use.
type Model struct {
	turns []Turn
	dirty bool
}

func New() *Model { return &Model{} }

func (m *Model) AppendTurn(role Role, parts ...Part) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if len(parts) == 0 {
		return ErrEmptyParts
	}
	for i, p := range parts {
		if p == nil {
			return fmt.Errorf("%w: part %d is nil", ErrEmptyParts, i)
		}
	}
	t := Turn{Role: role, Parts: parts}
	m.turns = append(m.turns, t.clone())
	return nil
}

// EditTurnText replaces the first Text part of turn i, or appends one when the
// turn has no text. The returned flag is always true on success: the bound
// remote chat no longer matches the history.
func (m *Model) EditTurnText(i int, text string) (bool, error) {
	if err := m.checkIndex(i); err != nil {
		return false, err
	}
	t := &m.turns[i]
	replaced := false
	for j, p := range t.Parts {
		if _, ok := p.(Text); ok {
			t.Parts[j] = Text(text)
			replaced = true
			break
		}
	}
	if !replaced {
		t.Parts = append(t.Parts, Text(text))
	}
	m.dirty = true
	return true, nil
}

func (m *Model) DeleteTurn(i int) (bool, error) {
	if err := m.checkIndex(i); err != nil {
		return false, err
	}
	m.turns = append(m.turns[:i], m.turns[i+1:]...)
	m.dirty = true
	return true, nil
}

func (m *Model) checkIndex(i int) error {
	if i < 0 || i >= len(m.turns) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(m.turns))
	}
	return nil
}

// RequestHistory returns a deep copy of the turns in order.
func (m *Model) RequestHistory() []Turn {
	out := make([]Turn, len(m.turns))
	for i, t := range m.turns {
		out[i] = t.clone()
	}
	return out
}

func (m *Model) Len() int { return len(m.turns) }

func (m *Model) Turn(i int) (Turn, error) {
	if err := m.checkIndex(i); err != nil {
		return Turn{}, err
	}
	return m.turns[i].clone(), nil
}

func (m *Model) Dirty() bool { return m.dirty }
func (m *Model) MarkDirty()  { m.dirty = true }
func (m *Model) MarkClean()  { m.dirty = false }

// Reset drops every turn. The model is left dirty.
func (m *Model) Reset() {
	m.turns = nil
	m.dirty = true
}

// ExportText renders the conversation as plain text for download. A turn
// without text shows as "[image]".
func (m *Model) ExportText() string {
	var b strings.Builder
	for _, t := range m.turns {
		header := "User"
		if t.Role == RoleAssistant {
			header = "AI"
		}
		text := "[image]"
		if hasText(t) {
			text = t.PrimaryText()
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n---\n", header, text)
	}
	return b.String()
}

func hasText(t Turn) bool {
	for _, p := range t.Parts {
		if _, ok := p.(Text); ok {
			return true
		}
	}
	return false
}

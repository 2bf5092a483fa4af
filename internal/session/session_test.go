package session

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendValidatesRoleAndParts(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.AppendTurn("system", Text("x")), ErrInvalidRole)
	assert.ErrorIs(t, m.AppendTurn(RoleUser), ErrEmptyParts)
	assert.ErrorIs(t, m.AppendTurn(RoleUser, nil), ErrEmptyParts)
	assert.Equal(t, 0, m.Len())

	require.NoError(t, m.AppendTurn(RoleUser, Image{MIMEType: "image/png", Data: []byte{1, 2}}, Text("what is this?")))
	require.NoError(t, m.AppendTurn(RoleAssistant, Text("a cat")))
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Dirty(), "appending does not invalidate the remote chat")
}

func TestEditReplacesFirstTextPart(t *testing.T) {
	m := New()
	img := Image{MIMEType: "image/jpeg", Data: []byte("jpg")}
	require.NoError(t, m.AppendTurn(RoleUser, Text("Hello"), img, Text("second")))

	rebuild, err := m.EditTurnText(0, "Goodbye")
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.True(t, m.Dirty())

	turn, err := m.Turn(0)
	require.NoError(t, err)
	assert.Equal(t, []Part{Text("Goodbye"), img, Text("second")}, turn.Parts)
}

func TestEditAppendsTextWhenTurnHasNone(t *testing.T) {
	m := New()
	img := Image{MIMEType: "image/png", Data: []byte{9}}
	require.NoError(t, m.AppendTurn(RoleUser, img))

	_, err := m.EditTurnText(0, "caption")
	require.NoError(t, err)

	turn, _ := m.Turn(0)
	assert.Equal(t, []Part{img, Text("caption")}, turn.Parts)
	assert.Equal(t, "caption", turn.PrimaryText())
}

func TestDeleteOutOfRangeLeavesModelUnchanged(t *testing.T) {
	m := New()
	require.NoError(t, m.AppendTurn(RoleUser, Text("a")))
	require.NoError(t, m.AppendTurn(RoleAssistant, Text("b")))
	require.NoError(t, m.AppendTurn(RoleUser, Text("c")))
	before := m.RequestHistory()

	rebuild, err := m.DeleteTurn(5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	assert.False(t, rebuild)
	assert.False(t, m.Dirty())
	assert.Equal(t, before, m.RequestHistory())

	_, err = m.EditTurnText(-1, "x")
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	rebuild, err = m.DeleteTurn(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.False(t, rebuild)
	assert.False(t, m.Dirty())
	assert.Equal(t, before, m.RequestHistory())
}

func TestDeleteRemovesTurn(t *testing.T) {
	m := New()
	require.NoError(t, m.AppendTurn(RoleUser, Text("a")))
	require.NoError(t, m.AppendTurn(RoleAssistant, Text("b")))

	rebuild, err := m.DeleteTurn(0)
	require.NoError(t, err)
	assert.True(t, rebuild)
	require.Equal(t, 1, m.Len())
	turn, _ := m.Turn(0)
	assert.Equal(t, RoleAssistant, turn.Role)
}

func TestRequestHistoryIsDeepCopy(t *testing.T) {
	m := New()
	require.NoError(t, m.AppendTurn(RoleUser, Image{MIMEType: "image/png", Data: []byte{1, 2, 3}}, Text("hi")))

	h := m.RequestHistory()
	h[0].Parts[0].(Image).Data[0] = 42
	h[0].Parts[1] = Text("mutated")

	again := m.RequestHistory()
	assert.Equal(t, byte(1), again[0].Parts[0].(Image).Data[0])
	assert.Equal(t, "hi", again[0].PrimaryText())
}

func TestAppendCopiesCallerBytes(t *testing.T) {
	m := New()
	data := []byte{7, 7}
	require.NoError(t, m.AppendTurn(RoleUser, Image{MIMEType: "image/png", Data: data}))
	data[0] = 0
	turn, _ := m.Turn(0)
	assert.Equal(t, byte(7), turn.Parts[0].(Image).Data[0])
}

// History must always equal a plain slice driven by the same operations.
func TestRandomOperationsMatchReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := New()
	var ref [][]Part
	roles := []Role{}

	words := []string{"alpha", "beta", "gamma", "delta"}
	for step := 0; step < 500; step++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(ref) == 0:
			role := RoleUser
			if rng.Intn(2) == 0 {
				role = RoleAssistant
			}
			parts := []Part{Text(words[rng.Intn(len(words))])}
			if rng.Intn(3) == 0 {
				parts = []Part{Image{MIMEType: "image/png", Data: []byte{byte(step)}}}
			}
			require.NoError(t, m.AppendTurn(role, parts...))
			ref = append(ref, parts)
			roles = append(roles, role)
		case op == 1:
			i := rng.Intn(len(ref)+3) - 1
			text := words[rng.Intn(len(words))]
			_, err := m.EditTurnText(i, text)
			if i < 0 || i >= len(ref) {
				require.ErrorIs(t, err, ErrIndexOutOfRange)
				continue
			}
			require.NoError(t, err)
			cur := append([]Part(nil), ref[i]...)
			done := false
			for j, p := range cur {
				if _, ok := p.(Text); ok {
					cur[j] = Text(text)
					done = true
					break
				}
			}
			if !done {
				cur = append(cur, Text(text))
			}
			ref[i] = cur
		default:
			i := rng.Intn(len(ref)+3) - 1
			_, err := m.DeleteTurn(i)
			if i < 0 || i >= len(ref) {
				require.ErrorIs(t, err, ErrIndexOutOfRange)
				continue
			}
			require.NoError(t, err)
			ref = append(ref[:i], ref[i+1:]...)
			roles = append(roles[:i], roles[i+1:]...)
		}

		h := m.RequestHistory()
		require.Len(t, h, len(ref), "step %d", step)
		for i := range h {
			require.Equal(t, roles[i], h[i].Role, "step %d turn %d", step, i)
			require.Equal(t, ref[i], h[i].Parts, "step %d turn %d", step, i)
		}
	}
}

func TestExportText(t *testing.T) {
	m := New()
	require.NoError(t, m.AppendTurn(RoleUser, Text("Hello")))
	require.NoError(t, m.AppendTurn(RoleAssistant, Text("Hi there")))
	require.NoError(t, m.AppendTurn(RoleUser, Image{MIMEType: "image/png", Data: []byte{1}}))

	want := "[User]\nHello\n\n---\n[AI]\nHi there\n\n---\n[User]\n[image]\n\n---\n"
	assert.Equal(t, want, m.ExportText())
}

func TestResetClearsTurns(t *testing.T) {
	m := New()
	require.NoError(t, m.AppendTurn(RoleUser, Text("a")))
	m.MarkClean()
	m.Reset()
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.Dirty())
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-chatter/internal/llm"
	"gemini-chatter/internal/llm/llmtest"
	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
	"gemini-chatter/internal/storage"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 15, 0, time.Local)

func newService(t *testing.T, client llm.Client) *Service {
	t.Helper()
	s, err := NewService(Options{
		ID:       "test",
		Defaults: settings.Default(),
		Client:   client,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s
}

func TestStreamedReplyIsAggregated(t *testing.T) {
	fake := &llmtest.Client{Replies: []llmtest.Reply{{Chunks: []string{"Hi", " there"}}}}
	s := newService(t, fake)

	var seen []string
	reply, err := s.Send(context.Background(), SendRequest{
		Text:    "Hello",
		Stream:  true,
		OnDelta: func(c llm.Chunk) { seen = append(seen, c.Text) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hi", "Hi there"}, seen)
	assert.Equal(t, "Hi there", reply.Text)
	assert.Equal(t, "Hi there", reply.Record.Text())
	assert.Equal(t, "STOP", reply.Record.Candidates[0].FinishReason)

	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, session.Turn{Role: session.RoleUser, Parts: []session.Part{session.Text("Hello")}}, h[0])
	assert.Equal(t, session.Turn{Role: session.RoleAssistant, Parts: []session.Part{session.Text("Hi there")}}, h[1])

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Response.Success)
	assert.True(t, entries[0].Request.Stream)
	assert.Equal(t, "Hello", entries[0].Request.Prompt)
	assert.Equal(t, "gemini-1.5-pro-latest", entries[0].Request.ModelName)
}

func TestMidStreamFailure(t *testing.T) {
	boom := errors.New("stream reset by peer")
	fake := &llmtest.Client{Replies: []llmtest.Reply{{Chunks: []string{"Partial"}, Err: boom}}}
	s := newService(t, fake)

	_, err := s.Send(context.Background(), SendRequest{Text: "Tell me a story", Stream: true})
	require.Error(t, err)
	var gerr *GenerationError
	require.True(t, errors.As(err, &gerr))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Partial", gerr.Partial)

	h := s.History()
	require.Len(t, h, 1, "only the user turn remains")
	assert.Equal(t, session.RoleUser, h[0].Role)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Response.Success)
	assert.Contains(t, entries[0].Response.Error, "stream reset by peer")
	require.NotNil(t, entries[0].Response.Body)
	assert.Equal(t, "Partial", entries[0].Response.Body.Text())

	assert.True(t, s.NeedsRebuild(), "a failed call invalidates the remote chat")
}

func TestNonStreamingFailureLogsError(t *testing.T) {
	fake := &llmtest.Client{Replies: []llmtest.Reply{{Err: errors.New("429 quota")}}}
	s := newService(t, fake)

	_, err := s.Send(context.Background(), SendRequest{Text: "hi"})
	var gerr *GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.Empty(t, gerr.Partial)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Response.Body)
	assert.Equal(t, "429 quota", entries[0].Response.Error)

	// retry by resending
	reply, err := s.Send(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", reply.Text)
	assert.Len(t, s.History(), 3)
}

func TestEmptyReplyIsFailure(t *testing.T) {
	fake := &llmtest.Client{Replies: []llmtest.Reply{{FinishReason: "SAFETY"}}}
	s := newService(t, fake)

	_, err := s.Send(context.Background(), SendRequest{Text: "something risky"})
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Len(t, s.History(), 1)
	require.Len(t, s.Entries(), 1)
	assert.False(t, s.Entries()[0].Response.Success)
}

func TestConfigurationErrorAppendsNothing(t *testing.T) {
	s := newService(t, nil)
	_, err := s.Send(context.Background(), SendRequest{Text: "hello"})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, llm.ErrMissingCredentials)
	assert.Empty(t, s.History())
	assert.Empty(t, s.Entries())

	bad := newService(t, &llmtest.Client{StartErr: errors.New("invalid api key")})
	_, err = bad.Send(context.Background(), SendRequest{Text: "hello"})
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, bad.History())

	_, err = s.ListModels(context.Background())
	assert.ErrorAs(t, err, &cerr)
}

func TestNothingToSend(t *testing.T) {
	s := newService(t, &llmtest.Client{})
	_, err := s.Send(context.Background(), SendRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrNothingToSend)
}

func TestImagesPrecedeText(t *testing.T) {
	fake := &llmtest.Client{}
	s := newService(t, fake)
	img := session.Image{MIMEType: "image/png", Data: []byte{1, 2}}

	_, err := s.Send(context.Background(), SendRequest{Text: "what is it", Images: []session.Image{img}})
	require.NoError(t, err)
	require.Len(t, fake.Sent, 1)
	assert.Equal(t, []session.Part{img, session.Text("what is it")}, fake.Sent[0])
	assert.Equal(t, 1, s.Entries()[0].Request.Images)
}

func TestRemoteChatIsReusedUntilInvalidated(t *testing.T) {
	fake := &llmtest.Client{}
	s := newService(t, fake)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Send(ctx, SendRequest{Text: "ping"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.StartCount())

	// editing history rebuilds with the edited turns
	rebuild, err := s.EditTurnText(0, "edited ping")
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.True(t, s.NeedsRebuild())
	_, err = s.Send(ctx, SendRequest{Text: "next"})
	require.NoError(t, err)
	require.Equal(t, 2, fake.StartCount())
	last := fake.Starts[1]
	require.Len(t, last.History, 4)
	assert.Equal(t, "edited ping", last.History[0].PrimaryText())

	// a settings change rebuilds with the new settings and keeps the turns
	require.NoError(t, s.UpdateSetting("temperature", "0.2"))
	_, err = s.Send(ctx, SendRequest{Text: "again"})
	require.NoError(t, err)
	require.Equal(t, 3, fake.StartCount())
	assert.InDelta(t, 0.2, fake.Starts[2].Config.Temperature, 1e-6)
	assert.Len(t, fake.Starts[2].History, 6)

	// deleting rebuilds too
	_, err = s.DeleteTurn(0)
	require.NoError(t, err)
	require.NoError(t, s.ApplyChanges(ctx))
	assert.Equal(t, 4, fake.StartCount())
	assert.Len(t, fake.Starts[3].History, 7)
	assert.False(t, s.NeedsRebuild())
}

func TestSettingsChangeDoesNotTouchTurns(t *testing.T) {
	s := newService(t, &llmtest.Client{})
	_, err := s.Send(context.Background(), SendRequest{Text: "hello"})
	require.NoError(t, err)
	before := s.History()

	require.NoError(t, s.UpdateSetting("model", "gemini-1.5-flash"))
	require.NoError(t, s.UpdateSetting("system", "Reply in French."))
	require.NoError(t, s.SetSafetyThreshold(settings.HarmCategoryHarassment, settings.BlockOnlyHigh))
	assert.Equal(t, before, s.History())
	assert.Equal(t, "gemini-1.5-flash", s.Settings().ModelName)
}

func TestDeleteOutOfRange(t *testing.T) {
	s := newService(t, &llmtest.Client{})
	_, err := s.Send(context.Background(), SendRequest{Text: "hello"})
	require.NoError(t, err)

	_, err = s.DeleteTurn(5)
	assert.ErrorIs(t, err, session.ErrIndexOutOfRange)
	assert.Len(t, s.History(), 2)
}

func TestResetKeepsLog(t *testing.T) {
	fake := &llmtest.Client{}
	s := newService(t, fake)
	_, err := s.Send(context.Background(), SendRequest{Text: "hello"})
	require.NoError(t, err)

	s.Reset()
	assert.Empty(t, s.History())
	assert.Len(t, s.Entries(), 1)
	_, err = s.Send(context.Background(), SendRequest{Text: "fresh"})
	require.NoError(t, err)
	assert.Empty(t, fake.Starts[1].History)
}

func TestExports(t *testing.T) {
	s := newService(t, &llmtest.Client{})
	_, err := s.Send(context.Background(), SendRequest{Text: "hello"})
	require.NoError(t, err)

	f, err := s.ExportLog(storage.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "raw_logs_20240601_093015.json", f.Name)
	assert.Equal(t, "application/json", f.MIMEType)
	var entries []storage.Entry
	require.NoError(t, json.Unmarshal(f.Data, &entries))
	require.Len(t, entries, 1)

	again, err := s.ExportLog(storage.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, f.Data, again.Data)

	txt, err := s.ExportLog(storage.FormatText)
	require.NoError(t, err)
	assert.Equal(t, "raw_logs_20240601_093015.txt", txt.Name)
	assert.Equal(t, "text/plain", txt.MIMEType)

	h := s.ExportHistory()
	assert.Equal(t, "chat_history_20240601_093015.txt", h.Name)
	assert.True(t, strings.HasPrefix(string(h.Data), "[User]\nhello\n\n---\n[AI]\necho: hello"))
}

func TestReplyAndEntriesDoNotAliasTheLog(t *testing.T) {
	s := newService(t, &llmtest.Client{})
	reply, err := s.Send(context.Background(), SendRequest{Text: "hello"})
	require.NoError(t, err)
	before, err := s.ExportLog(storage.FormatJSON)
	require.NoError(t, err)

	reply.Record.Candidates[0].Text = "edited reply"
	reply.Entry.Response.Body.Candidates[0].Text = "edited entry"
	s.Entries()[0].Response.Body.Candidates[0].Text = "edited listing"

	after, err := s.ExportLog(storage.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
	assert.Equal(t, "echo: hello", s.Entries()[0].Response.Body.Candidates[0].Text)
}

func TestRecorderMirrorsEntries(t *testing.T) {
	rec, err := storage.NewFileRecorder(filepath.Join(t.TempDir(), "log.jsonl"))
	require.NoError(t, err)
	s, err := NewService(Options{Defaults: settings.Default(), Client: &llmtest.Client{}, Recorder: rec})
	require.NoError(t, err)

	_, err = s.Send(context.Background(), SendRequest{Text: "hello"})
	require.NoError(t, err)

	mirrored, err := rec.LoadInteractions(context.Background())
	require.NoError(t, err)
	require.Len(t, mirrored, 1)
	assert.Equal(t, s.Entries()[0].ID, mirrored[0].ID)
	assert.Equal(t, s.ID(), mirrored[0].SessionID)
}

func TestStats(t *testing.T) {
	s := newService(t, &llmtest.Client{Replies: []llmtest.Reply{{Chunks: []string{"a"}}, {Err: errors.New("x")}}})
	_, _ = s.Send(context.Background(), SendRequest{Text: "one"})
	_, _ = s.Send(context.Background(), SendRequest{Text: "two"})

	st := s.Stats()
	assert.Equal(t, 2, st.TotalCalls)
	assert.Equal(t, 1, st.Failed)
}

func TestManager(t *testing.T) {
	created := 0
	m := NewManager(func(key string) (*Service, error) {
		created++
		return NewService(Options{ID: key, Defaults: settings.Default(), Client: &llmtest.Client{}})
	})

	a, err := m.Get("1")
	require.NoError(t, err)
	a2, err := m.Get("1")
	require.NoError(t, err)
	assert.Same(t, a, a2)
	_, err = m.Get("2")
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	var keys []string
	m.Each(func(k string, _ *Service) { keys = append(keys, k) })
	assert.Equal(t, []string{"1", "2"}, keys)

	_, err = m.Get("1")
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

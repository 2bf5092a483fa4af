package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gemini-chatter/internal/auth"
	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/commands"
	"gemini-chatter/internal/llm/llmtest"
	"gemini-chatter/internal/settings"
)

type fakeSender struct {
	sent   []string
	edits  []string
	docs   []string
	nextID int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.nextID++
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, m.Text)
	case tgbotapi.EditMessageTextConfig:
		f.edits = append(f.edits, m.Text)
	case tgbotapi.DocumentConfig:
		f.docs = append(f.docs, m.File.(tgbotapi.FileBytes).Name)
	}
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{FileID: cfg.FileID, FilePath: "photos/" + cfg.FileID + ".jpg"}, nil
}

func newTestBot(t *testing.T, fake *llmtest.Client, stream bool, allowed ...int64) (*Bot, *fakeSender) {
	t.Helper()
	authSvc, err := auth.NewWithRepo(nil, allowed)
	if err != nil {
		t.Fatalf("auth init: %v", err)
	}
	m := chat.NewManager(func(key string) (*chat.Service, error) {
		return chat.NewService(chat.Options{
			ID:       key,
			Defaults: settings.Default(),
			Client:   fake,
			Now:      func() time.Time { return time.Date(2024, 6, 1, 9, 30, 15, 0, time.Local) },
		})
	})
	fs := &fakeSender{}
	return &Bot{
		s:        fs,
		token:    "TOKEN",
		authSvc:  authSvc,
		sessions: m,
		commands: commands.NewExecutor(nil),
		stream:   stream,
		download: func(string) ([]byte, error) { return nil, errors.New("no network in tests") },
	}, fs
}

func textMessage(userID, chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{From: &tgbotapi.User{ID: userID}, Chat: &tgbotapi.Chat{ID: chatID}, Text: text}
	if strings.HasPrefix(text, "/") {
		name, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}}
	}
	return tgbotapi.Update{Message: msg}
}

func TestUnauthorizedUserIsRejected(t *testing.T) {
	fake := &llmtest.Client{}
	b, fs := newTestBot(t, fake, false, 1)

	b.handleUpdate(context.Background(), textMessage(2, 2, "hello"))

	if len(fs.sent) != 1 || !strings.Contains(fs.sent[0], "private") {
		t.Fatalf("unexpected sent: %+v", fs.sent)
	}
	if len(fake.Sent) != 0 {
		t.Fatalf("model must not be called")
	}
}

func TestPlainReplyCarriesMetaLine(t *testing.T) {
	fake := &llmtest.Client{Replies: []llmtest.Reply{{Chunks: []string{"Hi there"}}}}
	b, fs := newTestBot(t, fake, false)

	b.handleUpdate(context.Background(), textMessage(1, 100, "Hello"))

	if len(fs.sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(fs.sent))
	}
	out := fs.sent[0]
	if !strings.HasPrefix(out, "[finish=STOP, tokens:") || !strings.HasSuffix(out, "\n\nHi there") {
		t.Fatalf("unexpected reply: %q", out)
	}
}

func TestStreamedReplyEditsPlaceholder(t *testing.T) {
	fake := &llmtest.Client{Replies: []llmtest.Reply{{Chunks: []string{"Hi", " there"}}}}
	b, fs := newTestBot(t, fake, true)

	b.handleUpdate(context.Background(), textMessage(1, 100, "Hello"))

	if len(fs.sent) != 1 || fs.sent[0] != placeholder {
		t.Fatalf("placeholder not sent: %+v", fs.sent)
	}
	if len(fs.edits) < 2 {
		t.Fatalf("expected progressive edits, got %+v", fs.edits)
	}
	if fs.edits[0] != "Hi" {
		t.Fatalf("first edit = %q", fs.edits[0])
	}
	if last := fs.edits[len(fs.edits)-1]; !strings.HasSuffix(last, "Hi there") {
		t.Fatalf("final edit = %q", last)
	}
}

func TestFailedStreamShowsPartialAndError(t *testing.T) {
	fake := &llmtest.Client{Replies: []llmtest.Reply{{Chunks: []string{"Par"}, Err: errors.New("connection reset")}}}
	b, fs := newTestBot(t, fake, true)

	b.handleUpdate(context.Background(), textMessage(1, 100, "Hello"))

	last := fs.edits[len(fs.edits)-1]
	if !strings.HasPrefix(last, "Par\n\n") || !strings.Contains(last, "connection reset") {
		t.Fatalf("final edit = %q", last)
	}
	svc, _ := b.session(100)
	if h := svc.History(); len(h) != 1 {
		t.Fatalf("only the user turn should remain, got %d turns", len(h))
	}
}

func TestCommandsAreRoutedPerChat(t *testing.T) {
	fake := &llmtest.Client{}
	b, fs := newTestBot(t, fake, false)
	ctx := context.Background()

	b.handleUpdate(ctx, textMessage(1, 100, "Hello"))
	b.handleUpdate(ctx, textMessage(1, 200, "/history"))
	b.handleUpdate(ctx, textMessage(1, 100, "/delete 7"))
	b.handleUpdate(ctx, textMessage(1, 100, "/export"))

	if fs.sent[1] != "History is empty." {
		t.Fatalf("chat 200 should have its own session: %q", fs.sent[1])
	}
	if !strings.Contains(fs.sent[2], "no turn #7") {
		t.Fatalf("out-of-range delete: %q", fs.sent[2])
	}
	if len(fs.docs) != 1 || fs.docs[0] != "raw_logs_20240601_093015.json" {
		t.Fatalf("unexpected documents: %+v", fs.docs)
	}
}

func TestPhotoBecomesImagePart(t *testing.T) {
	fake := &llmtest.Client{}
	b, _ := newTestBot(t, fake, false)
	var fetched string
	b.download = func(url string) ([]byte, error) {
		fetched = url
		return []byte{0xff, 0xd8}, nil
	}
	msg := &tgbotapi.Message{
		From:    &tgbotapi.User{ID: 1},
		Chat:    &tgbotapi.Chat{ID: 100},
		Caption: "what is this?",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "big", Width: 1280, Height: 960},
			{FileID: "mid", Width: 320, Height: 240},
		},
	}

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: msg})

	if !strings.Contains(fetched, "TOKEN") || !strings.HasSuffix(fetched, "photos/big.jpg") {
		t.Fatalf("largest photo not downloaded: %q", fetched)
	}
	svc, _ := b.session(100)
	h := svc.History()
	if len(h) != 2 || h[0].ImageCount() != 1 || h[0].PrimaryText() != "what is this?" {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestSplitMessage(t *testing.T) {
	parts := splitMessage("aaaa\nbbbb\ncc", 6)
	if len(parts) != 3 || parts[0] != "aaaa" || parts[1] != "bbbb" || parts[2] != "cc" {
		t.Fatalf("unexpected parts: %q", parts)
	}
	parts = splitMessage(strings.Repeat("é", 5), 3)
	for _, p := range parts {
		if len(p) > 3 || !strings.HasPrefix(p, "é") {
			t.Fatalf("rune split: %q", parts)
		}
	}
}

func TestSplitMessageInvalidUTF8(t *testing.T) {
	done := make(chan []string, 1)
	go func() { done <- splitMessage(strings.Repeat("\x80", 5000), maxMessageLen) }()
	select {
	case parts := <-done:
		total := 0
		for _, p := range parts {
			if len(p) == 0 || len(p) > maxMessageLen || !utf8.ValidString(p) {
				t.Fatalf("bad part of %d bytes", len(p))
			}
			total += utf8.RuneCountInString(p)
		}
		if total != 5000 {
			t.Fatalf("expected 5000 replacement runes, got %d", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("splitMessage did not return")
	}

	// A limit smaller than one rune still makes progress.
	parts := splitMessage("ééé", 1)
	if len(parts) == 0 || strings.Join(parts, "") != "ééé" {
		t.Fatalf("unexpected parts: %q", parts)
	}
}

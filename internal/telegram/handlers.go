package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/commands"
	"gemini-chatter/internal/llm"
	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/response"
	"gemini-chatter/internal/session"
)

const (
	resetCmd  = "reset_ctx"
	exportCmd = "export_log"

	placeholder = "…"
	// Telegram rejects longer messages.
	maxMessageLen = 4096
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	svc, err := b.session(msg.Chat.ID)
	if err != nil {
		logger.Errorf("open session for chat %d: %v", msg.Chat.ID, err)
		b.sendMessage(msg.Chat.ID, "Sorry, something went wrong.")
		return
	}
	res, err := b.commands.Execute(ctx, svc, msg.Command(), msg.CommandArguments())
	if err != nil {
		b.sendMessage(msg.Chat.ID, errorText(err))
		return
	}
	b.deliver(msg.Chat.ID, res)
}

func (b *Bot) deliver(chatID int64, res commands.Result) {
	if res.File != nil {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: res.File.Name, Bytes: res.File.Data})
		doc.Caption = res.Text
		if _, err := b.s.Send(doc); err != nil {
			logger.Errorf("failed to send %s: %v", res.File.Name, err)
			b.sendMessage(chatID, "Could not upload the file.")
		}
		return
	}
	for _, part := range splitMessage(res.Text, maxMessageLen) {
		b.sendMessage(chatID, part)
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	svc, err := b.session(msg.Chat.ID)
	if err != nil {
		logger.Errorf("open session for chat %d: %v", msg.Chat.ID, err)
		b.sendMessage(msg.Chat.ID, "Sorry, something went wrong.")
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	images, err := b.collectImages(msg)
	if err != nil {
		logger.Errorf("chat %d: %v", msg.Chat.ID, err)
		b.sendMessage(msg.Chat.ID, "Could not download the attached image.")
		return
	}
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		b.sendMessage(msg.Chat.ID, "Send text or a photo.")
		return
	}
	logger.Debugf("incoming message from %d: %d chars, %d images", msg.From.ID, len(text), len(images))

	req := chat.SendRequest{Text: text, Images: images, Stream: b.stream}
	var live *liveMessage
	if b.stream {
		live = b.startLive(msg.Chat.ID)
		req.OnDelta = func(c llm.Chunk) { live.update(c.Text) }
	}

	reply, err := svc.Send(ctx, req)
	if err != nil {
		out := errorText(err)
		if live != nil && live.id != 0 {
			live.finish(out, nil)
			return
		}
		b.sendMessage(msg.Chat.ID, out)
		return
	}

	kb := menuKeyboard()
	final := metaLine(reply.Record) + "\n\n" + reply.Text
	if live != nil && live.id != 0 {
		live.finish(final, &kb)
		return
	}
	parts := splitMessage(final, maxMessageLen)
	for i, p := range parts {
		out := tgbotapi.NewMessage(msg.Chat.ID, p)
		if i == len(parts)-1 {
			out.ReplyMarkup = kb
		}
		if _, err := b.s.Send(out); err != nil {
			logger.Errorf("failed to send message: %v", err)
		}
	}
}

// collectImages downloads the largest size of an attached photo, or an image
// sent as a document.
func (b *Bot) collectImages(msg *tgbotapi.Message) ([]session.Image, error) {
	var fileID, mime string
	switch {
	case len(msg.Photo) > 0:
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		fileID, mime = best.FileID, "image/jpeg"
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		fileID, mime = msg.Document.FileID, msg.Document.MimeType
	default:
		return nil, nil
	}
	file, err := b.s.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	data, err := b.download(file.Link(b.token))
	if err != nil {
		return nil, err
	}
	return []session.Image{{MIMEType: mime, Data: data}}, nil
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		logger.Warnf("failed to answer callback: %v", err)
	}
	if cb.Message == nil || cb.From == nil || !b.authSvc.IsAllowed(cb.From.ID) {
		return
	}
	chatID := cb.Message.Chat.ID
	svc, err := b.session(chatID)
	if err != nil {
		logger.Errorf("open session for chat %d: %v", chatID, err)
		return
	}
	var name string
	switch cb.Data {
	case resetCmd:
		name = "reset"
	case exportCmd:
		name = "export"
	default:
		return
	}
	res, err := b.commands.Execute(ctx, svc, name, "")
	if err != nil {
		b.sendMessage(chatID, errorText(err))
		return
	}
	b.deliver(chatID, res)
}

func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("New conversation", resetCmd),
			tgbotapi.NewInlineKeyboardButtonData("Download log", exportCmd),
		),
	)
}

func metaLine(rec response.Record) string {
	finish := response.Unknown
	if len(rec.Candidates) > 0 {
		finish = rec.Candidates[0].FinishReason
	}
	return fmt.Sprintf("[finish=%s, tokens: prompt=%d, output=%d, total=%d]",
		finish, rec.Usage.PromptTokens, rec.Usage.OutputTokens, rec.Usage.TotalTokens)
}

// errorText turns a service or command error into a message for the user.
func errorText(err error) string {
	var cfgErr *chat.ConfigurationError
	var genErr *chat.GenerationError
	var usage *commands.UsageError
	switch {
	case errors.As(err, &cfgErr):
		return "The chat is not configured: " + cfgErr.Err.Error()
	case errors.As(err, &genErr):
		out := "The model call failed: " + genErr.Err.Error()
		if genErr.Partial != "" {
			out = genErr.Partial + "\n\n" + out
		}
		return out
	case errors.As(err, &usage):
		return "Usage: " + usage.Usage
	case errors.Is(err, commands.ErrUnknownCommand):
		return "Unknown command. Try /help."
	case errors.Is(err, session.ErrIndexOutOfRange):
		logger.Errorf("turn index reached the session unchecked: %v", err)
		return "That turn does not exist."
	case errors.Is(err, chat.ErrNothingToSend):
		return "Send text or a photo."
	default:
		return err.Error()
	}
}

// splitMessage cuts text into pieces of at most limit bytes, preferring line
// breaks and never splitting a UTF-8 sequence. Invalid bytes are replaced
// first since Telegram rejects them anyway.
func splitMessage(text string, limit int) []string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	var out []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	return append(out, text)
}

// liveMessage is a placeholder that is edited as a reply streams in.
type liveMessage struct {
	b      *Bot
	chatID int64
	id     int
	shown  string
	last   time.Time
}

func (b *Bot) startLive(chatID int64) *liveMessage {
	l := &liveMessage{b: b, chatID: chatID, shown: placeholder}
	m, err := b.s.Send(tgbotapi.NewMessage(chatID, placeholder))
	if err != nil {
		logger.Errorf("failed to send placeholder: %v", err)
		return l
	}
	l.id = m.MessageID
	return l
}

func (l *liveMessage) update(text string) {
	if l.id == 0 || time.Since(l.last) < l.b.editEvery {
		return
	}
	if len(text) > maxMessageLen {
		text = splitMessage(text, maxMessageLen)[0]
	}
	l.edit(text, nil)
}

// finish writes the final text, spilling any overflow into new messages.
func (l *liveMessage) finish(text string, kb *tgbotapi.InlineKeyboardMarkup) {
	parts := splitMessage(text, maxMessageLen)
	if len(parts) == 1 {
		l.edit(parts[0], kb)
		return
	}
	l.edit(parts[0], nil)
	for i, p := range parts[1:] {
		out := tgbotapi.NewMessage(l.chatID, p)
		if i == len(parts)-2 && kb != nil {
			out.ReplyMarkup = *kb
		}
		if _, err := l.b.s.Send(out); err != nil {
			logger.Errorf("failed to send message: %v", err)
		}
	}
}

func (l *liveMessage) edit(text string, kb *tgbotapi.InlineKeyboardMarkup) {
	if text == l.shown && kb == nil {
		return
	}
	e := tgbotapi.NewEditMessageText(l.chatID, l.id, text)
	e.ReplyMarkup = kb
	if _, err := l.b.s.Send(e); err != nil {
		logger.Warnf("failed to edit message: %v", err)
		return
	}
	l.shown = text
	l.last = time.Now()
}

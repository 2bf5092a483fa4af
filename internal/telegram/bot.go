package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gemini-chatter/internal/auth"
	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/commands"
	"gemini-chatter/internal/logger"
)

// editInterval throttles placeholder edits while a reply streams in.
const editInterval = 800 * time.Millisecond

type Bot struct {
	api      *tgbotapi.BotAPI
	s        sender
	token    string
	authSvc  *auth.Service
	sessions *chat.Manager
	commands *commands.Executor
	stream   bool

	download  func(url string) ([]byte, error)
	editEvery time.Duration
}

// New connects to the Bot API. Every Telegram chat gets its own session from
// sessions, keyed by the chat id.
func New(botToken string, authSvc *auth.Service, sessions *chat.Manager, exec *commands.Executor, stream bool) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	logger.Infof("authorized on account @%s", api.Self.UserName)
	return &Bot{
		api:       api,
		s:         botAPISender{api: api},
		token:     botToken,
		authSvc:   authSvc,
		sessions:  sessions,
		commands:  exec,
		stream:    stream,
		download:  httpDownload,
		editEvery: editInterval,
	}, nil
}

// Start polls for updates until ctx is cancelled. Updates are handled one at
// a time.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil {
			return
		}
		if !b.authSvc.IsAllowed(msg.From.ID) {
			logger.Warnf("unauthorized access attempt by user %d (@%s)", msg.From.ID, msg.From.UserName)
			b.sendMessage(msg.Chat.ID, "Sorry, this bot is private.")
			return
		}
		if err := b.authSvc.Remember(auth.User{ID: msg.From.ID, Username: msg.From.UserName}); err != nil {
			logger.Warnf("failed to save allowlist entry: %v", err)
		}
		if msg.IsCommand() {
			b.handleCommand(ctx, msg)
			return
		}
		b.handleIncomingMessage(ctx, msg)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) session(chatID int64) (*chat.Service, error) {
	return b.sessions.Get(strconv.FormatInt(chatID, 10))
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.s.Send(msg); err != nil {
		logger.Errorf("failed to send message: %v", err)
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gemini-chatter/internal/analytics"
	"gemini-chatter/internal/export"
	"gemini-chatter/internal/llm"
	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/response"
	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
	"gemini-chatter/internal/storage"
)

type Options struct {
	// ID defaults to a random UUID.
	ID       string
	Defaults settings.Config
	// Repo, when set, persists settings changes.
	Repo settings.Repository
	// Client may be nil; Send then fails with a ConfigurationError.
	Client   llm.Client
	Recorder storage.Recorder
	Now      func() time.Time
}

// Service is the state of one chat session: settings, turn history and
// interaction log, plus the remote conversation bound to them. Each method
// holds the service lock for its whole duration, so actions are applied one
// at a time.
type Service struct {
	mu sync.Mutex

	id           string
	settings     *settings.Store
	history      *session.Model
	interactions *storage.Log
	client       llm.Client
	recorder     storage.Recorder
	now          func() time.Time
	log          zerolog.Logger

	conv         llm.Conversation
	boundVersion uint64
}

func NewService(opts Options) (*Service, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	store, err := settings.NewStore(opts.Defaults, opts.Repo)
	if err != nil {
		return nil, fmt.Errorf("init settings: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		id:           id,
		settings:     store,
		history:      session.New(),
		interactions: storage.NewLog(id),
		client:       opts.Client,
		recorder:     opts.Recorder,
		now:          now,
		log:          logger.With(id),
	}, nil
}

func (s *Service) ID() string { return s.id }

type SendRequest struct {
	Text   string
	Images []session.Image
	Stream bool
	// OnDelta is called for every streamed chunk.
	OnDelta func(llm.Chunk)
}

type Reply struct {
	Text   string
	Record response.Record
	Entry  storage.Entry
}

// Send appends the user turn, calls the model and, on success, appends the
// assistant turn. Every call that reaches the model is logged.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]session.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, img)
	}
	if strings.TrimSpace(req.Text) != "" {
		parts = append(parts, session.Text(req.Text))
	}
	if len(parts) == 0 {
		return nil, ErrNothingToSend
	}

	cfg := s.settings.Config()
	if err := s.ensureConversation(ctx, cfg); err != nil {
		return nil, err
	}
	if err := s.history.AppendTurn(session.RoleUser, parts...); err != nil {
		return nil, err
	}

	logReq := storage.Request{
		Snapshot: cfg.Snapshot(),
		Prompt:   req.Text,
		Images:   len(req.Images),
		Stream:   req.Stream,
	}
	started := s.now()
	raw, err := s.generate(ctx, parts, req)
	rec := response.Normalize(raw)
	if err == nil && rec.Text() == "" {
		err = emptyReplyError(rec)
	}
	if err != nil {
		var partial *response.Record
		if raw != nil && (len(raw.Candidates) > 0 || raw.PromptFeedback != nil) {
			partial = &rec
		}
		s.record(ctx, logReq, storage.Failed(err, partial), started)
		// The remote side may hold a half-finished exchange.
		s.history.MarkDirty()
		s.log.Error().Err(err).Str("model", cfg.ModelName).Msg("generation failed")
		return nil, &GenerationError{Err: err, Partial: rec.Text()}
	}

	if err := s.history.AppendTurn(session.RoleAssistant, session.Text(rec.Text())); err != nil {
		return nil, err
	}
	entry := s.record(ctx, logReq, storage.Succeeded(rec), started)
	s.log.Info().
		Str("model", cfg.ModelName).
		Int("tokens", rec.Usage.TotalTokens).
		Bool("stream", req.Stream).
		Msg("reply received")
	return &Reply{Text: rec.Text(), Record: rec, Entry: entry}, nil
}

func emptyReplyError(rec response.Record) error {
	if rec.PromptFeedback.BlockReason != response.NoBlockReason {
		return fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyReply, rec.PromptFeedback.BlockReason)
	}
	if len(rec.Candidates) > 0 {
		return fmt.Errorf("%w: finish reason %s", ErrEmptyReply, rec.Candidates[0].FinishReason)
	}
	return ErrEmptyReply
}

func (s *Service) generate(ctx context.Context, parts []session.Part, req SendRequest) (*llm.Response, error) {
	if !req.Stream {
		return s.conv.Send(ctx, parts)
	}
	st, err := s.conv.SendStream(ctx, parts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	for {
		ch, err := st.Next()
		if errors.Is(err, io.EOF) {
			return st.Response(), nil
		}
		if err != nil {
			return st.Response(), err
		}
		if req.OnDelta != nil {
			req.OnDelta(ch)
		}
	}
}

// ensureConversation rebuilds the remote chat from the current history when
// there is none, the history was edited, or the settings changed.
func (s *Service) ensureConversation(ctx context.Context, cfg settings.Config) error {
	if s.conv != nil && !s.history.Dirty() && s.boundVersion == s.settings.Version() {
		return nil
	}
	if s.client == nil {
		return &ConfigurationError{Err: llm.ErrMissingCredentials}
	}
	if cfg.ModelName == "" {
		return &ConfigurationError{Err: settings.ErrEmptyModel}
	}
	conv, err := s.client.StartChat(ctx, cfg, s.history.RequestHistory())
	if err != nil {
		return &ConfigurationError{Err: err}
	}
	s.conv = conv
	s.boundVersion = s.settings.Version()
	s.history.MarkClean()
	s.log.Debug().Str("model", cfg.ModelName).Int("turns", s.history.Len()).Msg("remote chat rebuilt")
	return nil
}

func (s *Service) record(ctx context.Context, req storage.Request, out storage.Outcome, at time.Time) storage.Entry {
	entry := s.interactions.Record(req, out, at)
	if s.recorder != nil {
		if err := s.recorder.AppendInteraction(ctx, entry); err != nil {
			s.log.Warn().Err(err).Msg("failed to mirror interaction")
		}
	}
	return entry
}

// EditTurnText changes the text of turn i (0-based). The returned flag tells
// the caller the remote chat will be rebuilt before the next call.
func (s *Service) EditTurnText(i int, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.EditTurnText(i, text)
}

func (s *Service) DeleteTurn(i int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.DeleteTurn(i)
}

// ApplyChanges rebuilds the remote chat now instead of on the next Send.
func (s *Service) ApplyChanges(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = nil
	return s.ensureConversation(ctx, s.settings.Config())
}

// Reset starts a new conversation. Settings and the interaction log are kept.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Reset()
	s.conv = nil
}

func (s *Service) History() []session.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.RequestHistory()
}

// NeedsRebuild reports whether the next call will rebuild the remote chat.
func (s *Service) NeedsRebuild() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv == nil || s.history.Dirty() || s.boundVersion != s.settings.Version()
}

func (s *Service) Entries() []storage.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactions.Entries()
}

func (s *Service) Settings() settings.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Config()
}

// UpdateSetting applies a textual setting such as ("temperature", "0.4").
func (s *Service) UpdateSetting(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.SetField(name, value)
}

func (s *Service) SetSafetyThreshold(cat settings.HarmCategory, t settings.Threshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.SetSafetyThreshold(cat, t)
}

// ExportLog serialises the interaction log as a raw_logs_* download.
func (s *Service) ExportLog(f storage.Format) (export.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.interactions.Export(f)
	if err != nil {
		return export.File{}, err
	}
	return export.File{
		Name:     export.Filename("raw_logs", s.now(), f.Ext()),
		MIMEType: f.MIMEType(),
		Data:     data,
	}, nil
}

// ExportHistory renders the turns as a chat_history_* text download.
func (s *Service) ExportHistory() export.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return export.File{
		Name:     export.Filename("chat_history", s.now(), "txt"),
		MIMEType: export.MIMEText,
		Data:     []byte(s.history.ExportText()),
	}
}

func (s *Service) ListModels(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, &ConfigurationError{Err: llm.ErrMissingCredentials}
	}
	return s.client.ListModels(ctx)
}

func (s *Service) Stats() *analytics.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return analytics.Analyze(s.interactions.Entries())
}

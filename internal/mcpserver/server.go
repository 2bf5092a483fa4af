// Package mcpserver exposes chat sessions as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/commands"
	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
	"gemini-chatter/internal/storage"
)

// DefaultSession is used when a tool call names no session.
const DefaultSession = "default"

type SessionParams struct {
	Session string `json:"session,omitempty" mcp:"session name; sessions are independent conversations (default: 'default')"`
}

type ImageParam struct {
	MIMEType string `json:"mime_type" mcp:"image MIME type, e.g. image/png"`
	Data     string `json:"data" mcp:"base64-encoded image bytes"`
}

type SendMessageParams struct {
	Session string       `json:"session,omitempty" mcp:"session name (default: 'default')"`
	Text    string       `json:"text,omitempty" mcp:"message text"`
	Images  []ImageParam `json:"images,omitempty" mcp:"images sent before the text"`
}

type EditTurnParams struct {
	Session string `json:"session,omitempty" mcp:"session name (default: 'default')"`
	Turn    int    `json:"turn" mcp:"1-based turn number as shown by get_history"`
	Text    string `json:"text" mcp:"new text for the turn"`
}

type DeleteTurnParams struct {
	Session string `json:"session,omitempty" mcp:"session name (default: 'default')"`
	Turn    int    `json:"turn" mcp:"1-based turn number as shown by get_history"`
}

type UpdateSettingsParams struct {
	Session  string `json:"session,omitempty" mcp:"session name (default: 'default')"`
	Field    string `json:"field" mcp:"model, system, temperature, top_p, top_k, max_output_tokens or safety"`
	Value    string `json:"value" mcp:"new value; for safety a threshold such as BLOCK_ONLY_HIGH"`
	Category string `json:"category,omitempty" mcp:"harm category when field is safety, e.g. HATE_SPEECH"`
}

type ExportLogParams struct {
	Session string `json:"session,omitempty" mcp:"session name (default: 'default')"`
	Format  string `json:"format,omitempty" mcp:"json (default) or text"`
}

// Server holds the sessions the tools operate on.
type Server struct {
	sessions *chat.Manager
}

func New(sessions *chat.Manager) *Server {
	return &Server{sessions: sessions}
}

// MCP builds an MCP server with every chat tool registered.
func (s *Server) MCP() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "gemini-chatter-session",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_message",
		Description: "Sends a user message (text and/or images) and returns the model reply",
	}, s.SendMessage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_history",
		Description: "Returns the conversation with 1-based turn numbers",
	}, s.GetHistory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "edit_turn",
		Description: "Replaces the text of one turn; the chat is rebuilt before the next message",
	}, s.EditTurn)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_turn",
		Description: "Removes one turn; the chat is rebuilt before the next message",
	}, s.DeleteTurn)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_changes",
		Description: "Rebuilds the remote chat now from the current settings and history",
	}, s.ApplyChanges)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_settings",
		Description: "Returns the generation settings as JSON",
	}, s.GetSettings)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_settings",
		Description: "Changes one generation setting; invalid values are rejected",
	}, s.UpdateSettings)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_log",
		Description: "Returns the raw request/response log as JSON or text",
	}, s.ExportLog)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_history",
		Description: "Returns the conversation as plain text",
	}, s.ExportHistory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "stats",
		Description: "Returns usage statistics for a session",
	}, s.Stats)

	return server
}

// Run serves the tools on stdin/stdout until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.MCP().Run(ctx, mcp.NewStdioTransport())
}

func (s *Server) session(name string) (*chat.Service, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultSession
	}
	return s.sessions.Get(name)
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(err error) *mcp.CallToolResultFor[any] {
	logger.Warnf("tool call failed: %v", err)
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (s *Server) SendMessage(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SendMessageParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	svc, err := s.session(args.Session)
	if err != nil {
		return errorResult(err), nil
	}
	images := make([]session.Image, 0, len(args.Images))
	for i, img := range args.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return errorResult(fmt.Errorf("image %d: invalid base64: %w", i+1, err)), nil
		}
		images = append(images, session.Image{MIMEType: img.MIMEType, Data: data})
	}
	reply, err := svc.Send(ctx, chat.SendRequest{Text: args.Text, Images: images})
	if err != nil {
		return errorResult(err), nil
	}
	res := textResult(reply.Text)
	meta := map[string]any{
		"entry_id":     reply.Entry.ID,
		"total_tokens": reply.Record.Usage.TotalTokens,
	}
	if len(reply.Record.Candidates) > 0 {
		meta["finish_reason"] = reply.Record.Candidates[0].FinishReason
	}
	res.Meta = meta
	return res, nil
}

func (s *Server) GetHistory(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionParams]) (*mcp.CallToolResultFor[any], error) {
	return s.command(ctx, params.Arguments.Session, "history", "")
}

func (s *Server) EditTurn(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[EditTurnParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	svc, err := s.session(args.Session)
	if err != nil {
		return errorResult(err), nil
	}
	i, err := commands.TurnIndex(svc, args.Turn)
	if err != nil {
		return errorResult(err), nil
	}
	if _, err := svc.EditTurnText(i, args.Text); err != nil {
		return errorResult(err), nil
	}
	return textResult(fmt.Sprintf("Turn #%d updated.", args.Turn)), nil
}

func (s *Server) DeleteTurn(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DeleteTurnParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	svc, err := s.session(args.Session)
	if err != nil {
		return errorResult(err), nil
	}
	i, err := commands.TurnIndex(svc, args.Turn)
	if err != nil {
		return errorResult(err), nil
	}
	if _, err := svc.DeleteTurn(i); err != nil {
		return errorResult(err), nil
	}
	return textResult(fmt.Sprintf("Turn #%d deleted.", args.Turn)), nil
}

func (s *Server) ApplyChanges(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionParams]) (*mcp.CallToolResultFor[any], error) {
	return s.command(ctx, params.Arguments.Session, "apply", "")
}

func (s *Server) GetSettings(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionParams]) (*mcp.CallToolResultFor[any], error) {
	svc, err := s.session(params.Arguments.Session)
	if err != nil {
		return errorResult(err), nil
	}
	data, err := json.MarshalIndent(svc.Settings().Snapshot(), "", "  ")
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(string(data)), nil
}

func (s *Server) UpdateSettings(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[UpdateSettingsParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	svc, err := s.session(args.Session)
	if err != nil {
		return errorResult(err), nil
	}
	if strings.EqualFold(args.Field, "safety") {
		cat, err := settings.ParseCategory(args.Category)
		if err != nil {
			return errorResult(err), nil
		}
		th, err := settings.ParseThreshold(args.Value)
		if err != nil {
			return errorResult(err), nil
		}
		if err := svc.SetSafetyThreshold(cat, th); err != nil {
			return errorResult(err), nil
		}
		return textResult(fmt.Sprintf("%s set to %s.", cat, th)), nil
	}
	if err := svc.UpdateSetting(args.Field, args.Value); err != nil {
		return errorResult(err), nil
	}
	return textResult(args.Field + " updated."), nil
}

func (s *Server) ExportLog(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ExportLogParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	svc, err := s.session(args.Session)
	if err != nil {
		return errorResult(err), nil
	}
	f, err := storage.ParseFormat(args.Format)
	if err != nil {
		return errorResult(err), nil
	}
	file, err := svc.ExportLog(f)
	if err != nil {
		return errorResult(err), nil
	}
	res := textResult(string(file.Data))
	res.Meta = map[string]any{"file_name": file.Name, "mime_type": file.MIMEType}
	return res, nil
}

func (s *Server) ExportHistory(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionParams]) (*mcp.CallToolResultFor[any], error) {
	svc, err := s.session(params.Arguments.Session)
	if err != nil {
		return errorResult(err), nil
	}
	file := svc.ExportHistory()
	res := textResult(string(file.Data))
	res.Meta = map[string]any{"file_name": file.Name, "mime_type": file.MIMEType}
	return res, nil
}

func (s *Server) Stats(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionParams]) (*mcp.CallToolResultFor[any], error) {
	svc, err := s.session(params.Arguments.Session)
	if err != nil {
		return errorResult(err), nil
	}
	data, err := svc.Stats().ToJSON()
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(data), nil
}

// command runs one of the shared text commands against a session.
func (s *Server) command(ctx context.Context, name, cmd, args string) (*mcp.CallToolResultFor[any], error) {
	svc, err := s.session(name)
	if err != nil {
		return errorResult(err), nil
	}
	res, err := commands.NewExecutor(nil).Execute(ctx, svc, cmd, args)
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(res.Text), nil
}

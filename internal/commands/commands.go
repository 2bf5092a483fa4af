package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gemini-chatter/internal/changelog"
	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/export"
	"gemini-chatter/internal/session"
	"gemini-chatter/internal/settings"
	"gemini-chatter/internal/storage"
)

var ErrUnknownCommand = errors.New("unknown command")

// UsageError is returned when a command's arguments do not parse.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return "usage: " + e.Usage }

// Result is what a command hands back to the presentation surface: a text
// reply, optionally with a file to deliver.
type Result struct {
	Text string
	File *export.File
}

// Parse splits "/name args" into its parts. A "@botname" suffix on the name
// is dropped. ok is false for lines that are not commands.
func Parse(line string) (name, args string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	line = line[1:]
	name, args, _ = strings.Cut(line, " ")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

type Executor struct {
	changelog *changelog.Loader
}

func NewExecutor(cl *changelog.Loader) *Executor {
	return &Executor{changelog: cl}
}

// Help lists every command, one per line.
const Help = `/history - show the conversation with turn numbers
/edit N text - replace the text of turn N
/delete N - remove turn N
/apply - rebuild the chat with the current settings and history
/reset - start a new conversation
/settings - show the generation settings
/set field value - change a setting (model, system, temperature, top_p, top_k, max_output_tokens)
/safety CATEGORY THRESHOLD - set a safety threshold, e.g. /safety hate_speech BLOCK_ONLY_HIGH
/models - list available models
/export [json|text] - download the raw request/response log
/export_history - download the conversation as text
/stats - usage statistics for this session
/changelog - show the update log
/help - this message`

func (e *Executor) Execute(ctx context.Context, svc *chat.Service, name, args string) (Result, error) {
	switch name {
	case "start", "help":
		return Result{Text: Help}, nil
	case "history":
		turns := svc.History()
		text := renderHistory(turns)
		if len(turns) > 0 && svc.NeedsRebuild() {
			text += "\n" + pendingNote
		}
		return Result{Text: text}, nil
	case "edit":
		return editTurn(svc, args)
	case "delete":
		return deleteTurn(svc, args)
	case "apply":
		if err := svc.ApplyChanges(ctx); err != nil {
			return Result{}, err
		}
		return Result{Text: "Chat rebuilt with the current settings and history."}, nil
	case "reset":
		svc.Reset()
		return Result{Text: "New conversation started."}, nil
	case "settings":
		return Result{Text: svc.Settings().Describe()}, nil
	case "set":
		field, value, ok := strings.Cut(args, " ")
		if !ok || strings.TrimSpace(value) == "" {
			return Result{}, &UsageError{Usage: "/set field value"}
		}
		if err := svc.UpdateSetting(field, value); err != nil {
			return Result{}, err
		}
		return Result{Text: fmt.Sprintf("%s updated. It applies from the next message.", field)}, nil
	case "safety":
		return setSafety(svc, args)
	case "models":
		models, err := svc.ListModels(ctx)
		if err != nil {
			return Result{}, err
		}
		if len(models) == 0 {
			return Result{Text: "No models available."}, nil
		}
		return Result{Text: strings.Join(models, "\n")}, nil
	case "export":
		f, err := storage.ParseFormat(args)
		if err != nil {
			return Result{}, &UsageError{Usage: "/export [json|text]"}
		}
		file, err := svc.ExportLog(f)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: fmt.Sprintf("%d log entries", len(svc.Entries())), File: &file}, nil
	case "export_history":
		file := svc.ExportHistory()
		return Result{Text: "Conversation export", File: &file}, nil
	case "stats":
		return Result{Text: svc.Stats().GenerateReportSummary()}, nil
	case "changelog":
		if e.changelog == nil {
			return Result{Text: changelog.NotFound}, nil
		}
		return Result{Text: e.changelog.Text()}, nil
	default:
		return Result{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
}

const pendingNote = "Changes are pending: the chat is rebuilt from this history on the next message, or now with /apply."

func renderHistory(turns []session.Turn) string {
	if len(turns) == 0 {
		return "History is empty."
	}
	var b strings.Builder
	for i, t := range turns {
		who := "User"
		if t.Role == session.RoleAssistant {
			who = "AI"
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, who, t.PrimaryText())
		if n := t.ImageCount(); n > 0 {
			fmt.Fprintf(&b, " (+%d image)", n)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// turnIndex converts a 1-based turn number typed by the user into an index,
// rejecting numbers the user could not have seen.
func turnIndex(svc *chat.Service, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("turn number must be an integer: %q", raw)
	}
	return TurnIndex(svc, n)
}

// TurnIndex validates a 1-based turn number against the current history and
// returns the 0-based index.
func TurnIndex(svc *chat.Service, n int) (int, error) {
	total := len(svc.History())
	if n < 1 || n > total {
		return 0, fmt.Errorf("no turn #%d, history has %d turns", n, total)
	}
	return n - 1, nil
}

func editTurn(svc *chat.Service, args string) (Result, error) {
	num, text, ok := strings.Cut(args, " ")
	if !ok || strings.TrimSpace(text) == "" {
		return Result{}, &UsageError{Usage: "/edit N text"}
	}
	i, err := turnIndex(svc, num)
	if err != nil {
		return Result{}, err
	}
	rebuild, err := svc.EditTurnText(i, strings.TrimSpace(text))
	if err != nil {
		return Result{}, err
	}
	return Result{Text: changedText(fmt.Sprintf("Turn #%d updated.", i+1), rebuild)}, nil
}

func deleteTurn(svc *chat.Service, args string) (Result, error) {
	if strings.TrimSpace(args) == "" {
		return Result{}, &UsageError{Usage: "/delete N"}
	}
	i, err := turnIndex(svc, args)
	if err != nil {
		return Result{}, err
	}
	rebuild, err := svc.DeleteTurn(i)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: changedText(fmt.Sprintf("Turn #%d deleted.", i+1), rebuild)}, nil
}

func changedText(msg string, rebuild bool) string {
	if rebuild {
		return msg + " The chat will be rebuilt before the next message."
	}
	return msg
}

func setSafety(svc *chat.Service, args string) (Result, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return Result{}, &UsageError{Usage: "/safety CATEGORY THRESHOLD"}
	}
	cat, err := settings.ParseCategory(fields[0])
	if err != nil {
		return Result{}, err
	}
	th, err := settings.ParseThreshold(fields[1])
	if err != nil {
		return Result{}, err
	}
	if err := svc.SetSafetyThreshold(cat, th); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("%s set to %s.", cat, th)}, nil
}

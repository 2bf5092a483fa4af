package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"gemini-chatter/internal/app"
	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/commands"
	"gemini-chatter/internal/llm"
	"gemini-chatter/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with the configured model.

Type a message and press Enter. Lines starting with / are commands:

  /image PATH      attach an image to the next message
  /save DIR        directory for exported files (default: current directory)
  /quit            leave
` + indent(commands.Help) + `

Environment:
  LLM_PROVIDER, GEMINI_API_KEY, GEMINI_MODEL, OPENAI_API_KEY, OPENAI_BASE_URL,
  OPENAI_MODEL, YANDEX_OAUTH_TOKEN, YANDEX_FOLDER_ID, SYSTEM_INSTRUCTION,
  TEMPERATURE, TOP_P, TOP_K, MAX_OUTPUT_TOKENS, SAFETY_THRESHOLD, STREAMING,
  SETTINGS_FILE_PATH, LOG_FILE_PATH, REDIS_ADDR, CHANGELOG_PATH`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("no-stream", false, "wait for the whole reply instead of streaming it")
	chatCmd.Flags().String("session", "repl", "session name recorded in the interaction log")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cmd.Context(), cfg, app.SharedSettings)
	if err != nil {
		return err
	}
	defer a.Close()

	name, _ := cmd.Flags().GetString("session")
	svc, err := a.Sessions.Get(name)
	if err != nil {
		return err
	}
	noStream, _ := cmd.Flags().GetBool("no-stream")
	r := &repl{
		svc:    svc,
		exec:   commands.NewExecutor(a.Changelog),
		in:     cmd.InOrStdin(),
		out:    cmd.OutOrStdout(),
		stream: cfg.Streaming && !noStream,
		outDir: ".",
	}
	fmt.Fprintf(r.out, "Chatting with %s. /help lists commands, /quit leaves.\n", svc.Settings().ModelName)
	return r.run(cmd.Context())
}

type repl struct {
	svc    *chat.Service
	exec   *commands.Executor
	in     io.Reader
	out    io.Writer
	stream bool
	outDir string

	pending []session.Image
}

func (r *repl) run(ctx context.Context) error {
	sc := bufio.NewScanner(r.in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if name, args, ok := commands.Parse(line); ok {
			if name == "quit" || name == "exit" {
				return nil
			}
			r.command(ctx, name, args)
			continue
		}
		r.send(ctx, line)
	}
}

func (r *repl) command(ctx context.Context, name, args string) {
	switch name {
	case "image":
		img, err := readImage(args)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return
		}
		r.pending = append(r.pending, img)
		fmt.Fprintf(r.out, "%s attached (%d image(s) waiting for the next message)\n", img.MIMEType, len(r.pending))
		return
	case "save":
		if args == "" {
			fmt.Fprintf(r.out, "exports go to %s\n", r.outDir)
			return
		}
		r.outDir = args
		fmt.Fprintf(r.out, "exports will go to %s\n", r.outDir)
		return
	}

	res, err := r.exec.Execute(ctx, r.svc, name, args)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if res.File == nil {
		fmt.Fprintln(r.out, strings.TrimRight(res.Text, "\n"))
		return
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	path := filepath.Join(r.outDir, res.File.Name)
	if err := os.WriteFile(path, res.File.Data, 0o644); err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "%s written to %s\n", res.Text, path)
}

func (r *repl) send(ctx context.Context, text string) {
	req := chat.SendRequest{Text: text, Images: r.pending, Stream: r.stream}
	streamed := false
	if r.stream {
		req.OnDelta = func(c llm.Chunk) {
			streamed = true
			fmt.Fprint(r.out, c.Delta)
		}
	}
	reply, err := r.svc.Send(ctx, req)
	if streamed {
		fmt.Fprintln(r.out)
	}

	var cfgErr *chat.ConfigurationError
	var genErr *chat.GenerationError
	switch {
	case errors.As(err, &cfgErr):
		// Nothing was sent; keep the attachments for the next try.
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	case errors.As(err, &genErr):
		r.pending = nil
		fmt.Fprintf(r.out, "error: %v\n", genErr.Err)
		return
	case err != nil:
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	r.pending = nil
	if !streamed {
		fmt.Fprintln(r.out, reply.Text)
	}
	finish := ""
	if len(reply.Record.Candidates) > 0 {
		finish = reply.Record.Candidates[0].FinishReason
	}
	fmt.Fprintf(r.out, "[finish=%s, tokens=%d]\n", finish, reply.Record.Usage.TotalTokens)
}

// readImage loads an image file and sniffs its MIME type.
func readImage(path string) (session.Image, error) {
	if path == "" {
		return session.Image{}, &commands.UsageError{Usage: "/image PATH"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Image{}, err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return session.Image{}, fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return session.Image{MIMEType: mime, Data: data}, nil
}

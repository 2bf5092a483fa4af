package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gemini-chatter/internal/config"
	"gemini-chatter/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chatter",
	Short: "Chat with Gemini (or an OpenAI-compatible / YandexGPT model) from the terminal",
	Long: `chatter keeps a conversation with a generative model in your terminal.

Turns can be edited or deleted after the fact, generation settings can be
changed mid-conversation, and every request/response pair is logged and can
be exported as JSON or text.

Configuration comes from the environment (or a .env file); see chatter chat --help.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

var (
	cfg     *config.Config
	envFile string
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().String("provider", "", "override LLM_PROVIDER (gemini, openai, yandex)")
	rootCmd.PersistentFlags().String("model", "", "override the model for the selected provider")
	rootCmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL")
}

func loadConfig(cmd *cobra.Command) error {
	if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	c, err := config.Parse()
	if err != nil {
		return err
	}
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		c.LLMProvider = config.LLMProvider(p)
	}
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		switch c.LLMProvider {
		case config.ProviderOpenAI:
			c.OpenAIModel = m
		default:
			c.GeminiModel = m
		}
	}
	level := c.LogLevel
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		level = l
	}
	// The REPL owns the terminal; only warnings and worse go to stderr by default.
	if !cmd.Flags().Changed("log-level") && c.LogLevel == "info" {
		level = "warn"
	}
	logger.Configure(logger.ParseLevel(level), true)
	cfg = c
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"

	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/settings"
)

type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey     string      `env:"GEMINI_API_KEY"`
	GeminiModel      string      `env:"GEMINI_MODEL" envDefault:"gemini-1.5-pro-latest"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Generation defaults for new sessions
	SystemInstruction string  `env:"SYSTEM_INSTRUCTION" envDefault:"You are a helpful and friendly AI assistant."`
	SystemPromptPath  string  `env:"SYSTEM_PROMPT_PATH"`
	Temperature       float32 `env:"TEMPERATURE" envDefault:"0.7"`
	TopP              float32 `env:"TOP_P" envDefault:"1.0"`
	TopK              int32   `env:"TOP_K" envDefault:"40"`
	MaxOutputTokens   int32   `env:"MAX_OUTPUT_TOKENS" envDefault:"2048"`
	SafetyThreshold   string  `env:"SAFETY_THRESHOLD" envDefault:"BLOCK_NONE"`
	Streaming         bool    `env:"STREAMING" envDefault:"true"`

	// Storage
	SettingsFilePath string `env:"SETTINGS_FILE_PATH" envDefault:"data/settings.json"`
	LogFilePath      string `env:"LOG_FILE_PATH" envDefault:"logs/interactions.jsonl"`
	RedisAddr        string `env:"REDIS_ADDR"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`
	RedisLogKey      string `env:"REDIS_LOG_KEY" envDefault:"chatter:interactions"`

	// Export
	ExportDir  string `env:"EXPORT_DIR" envDefault:"exports"`
	ExportCron string `env:"EXPORT_CRON"`
	ExportKeep int    `env:"EXPORT_KEEP" envDefault:"24"`

	ChangelogPath string `env:"CHANGELOG_PATH" envDefault:"CHANGELOG.md"`

	// Telegram
	TelegramBotToken  string  `env:"TELEGRAM_BOT_TOKEN"`
	AllowedUsers      []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AllowlistFilePath string  `env:"ALLOWLIST_FILE_PATH" envDefault:"data/allowlist.json"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DevMode  bool   `env:"DEV_MODE"`
}

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	return cfg
}

// Model returns the model name configured for the active provider.
func (c *Config) Model() string {
	switch c.LLMProvider {
	case ProviderOpenAI:
		return c.OpenAIModel
	case ProviderYandex:
		return "yandexgpt-lite"
	default:
		return c.GeminiModel
	}
}

// Defaults builds the generation settings every new session starts from.
// A readable SYSTEM_PROMPT_PATH overrides SYSTEM_INSTRUCTION.
func (c *Config) Defaults() settings.Config {
	d := settings.Default()
	d.ModelName = c.Model()
	d.SystemInstruction = c.SystemInstruction
	if s := readSystemPrompt(c.SystemPromptPath); s != "" {
		d.SystemInstruction = s
	}
	d.Temperature = c.Temperature
	d.TopP = c.TopP
	d.TopK = c.TopK
	d.MaxOutputTokens = c.MaxOutputTokens
	if t := settings.Threshold(strings.ToUpper(c.SafetyThreshold)); t.Valid() {
		for cat := range d.SafetyThresholds {
			d.SafetyThresholds[cat] = t
		}
	} else {
		logger.Warnf("ignoring unknown SAFETY_THRESHOLD %q", c.SafetyThreshold)
	}
	return d
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnf("system prompt file not found or unreadable at %s: %v", path, err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/config"
	"gemini-chatter/internal/settings"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		LLMProvider:      config.ProviderGemini,
		GeminiModel:      "gemini-1.5-flash",
		Temperature:      0.7,
		TopP:             1,
		TopK:             40,
		MaxOutputTokens:  2048,
		SafetyThreshold:  "BLOCK_NONE",
		SettingsFilePath: filepath.Join(dir, "data", "settings.json"),
		LogFilePath:      filepath.Join(dir, "logs", "interactions.jsonl"),
		ChangelogPath:    filepath.Join(dir, "CHANGELOG.md"),
	}
}

func TestMissingCredentialsSurfaceOnSend(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), SharedSettings)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Client)

	svc, err := a.Sessions.Get("repl")
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), chat.SendRequest{Text: "hi"})
	var cfgErr *chat.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, svc.History())
	assert.Empty(t, svc.Entries())
}

func TestPerSessionSettingsFiles(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, PerSessionSettings)
	require.NoError(t, err)

	svc, err := a.Sessions.Get("team/chat")
	require.NoError(t, err)
	require.NoError(t, svc.UpdateSetting("temperature", "0.2"))

	path := filepath.Join(filepath.Dir(cfg.SettingsFilePath), "sessions", "team_chat.json")
	_, err = os.Stat(path)
	require.NoError(t, err)

	other, err := a.Sessions.Get("other")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, other.Settings().Temperature, 1e-6)

	// A restarted process picks the saved value up again.
	again, err := New(context.Background(), cfg, PerSessionSettings)
	require.NoError(t, err)
	svc, err = again.Sessions.Get("team/chat")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, svc.Settings().Temperature, 1e-6)
}

func TestDefaultsComeFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SafetyThreshold = "block_only_high"
	a, err := New(context.Background(), cfg, SharedSettings)
	require.NoError(t, err)

	svc, err := a.Sessions.Get("x")
	require.NoError(t, err)
	got := svc.Settings()
	assert.Equal(t, "gemini-1.5-flash", got.ModelName)
	for _, th := range got.SafetyThresholds {
		assert.Equal(t, settings.BlockOnlyHigh, th)
	}
}

func TestRedisRecorderIsWiredWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisAddr = mr.Addr()
	cfg.RedisLogKey = "test:log"

	a, err := New(context.Background(), cfg, SharedSettings)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Recorder)
	assert.NotNil(t, a.redis)

	cfg = testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"
	b, err := New(context.Background(), cfg, SharedSettings)
	require.NoError(t, err)
	assert.Nil(t, b.redis)
	assert.NotNil(t, b.Recorder)
}

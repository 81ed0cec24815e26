package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chantier.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFiles_Defaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, BackendOllama, config.Backend.Provider)
	assert.Equal(t, 50, config.Conversation.MaxMessages)
	assert.Equal(t, "X-User-ID", config.Auth.UserHeader)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeConfig(t, `
[server]
port = 9000

[rag]
top_k = 4
`)
	override := writeConfig(t, `
[rag]
top_k = 8
min_similarity = 0.4
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, 8, config.RAG.TopK)
	assert.Equal(t, 0.4, config.RAG.MinSimilarity)
	assert.Equal(t, 12000, config.RAG.MaxContextChars)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[conversation]
max_messages = 10
`)
	t.Setenv("CHANTIER_CONVERSATION_MAX_MESSAGES", "20")
	t.Setenv("CHANTIER_INDEXER_SCHEDULE", "")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 20, config.Conversation.MaxMessages)
	assert.Empty(t, config.Indexer.Schedule)
}

func TestLoadFromFiles_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"provider":       "[backend]\nprovider = \"openai\"\n",
		"timeout":        "[backend]\ntimeout = \"soon\"\n",
		"purge schedule": "[conversation]\npurge_schedule = \"every minute\"\n",
		"top_k":          "[rag]\ntop_k = 0\n",
		"max messages":   "[conversation]\nmax_messages = 0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromFiles(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8085, config.Server.Port)

	ApplyFlagOverrides(config, 9999, "0.0.0.0")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestMustDuration(t *testing.T) {
	assert.Equal(t, 2*time.Hour, MustDuration("2h", time.Minute))
	assert.Equal(t, time.Minute, MustDuration("nope", time.Minute))
}

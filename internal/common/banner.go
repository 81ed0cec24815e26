package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved endpoints
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Chantier RAG", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("backend", string(config.Backend.Provider)).
		Str("embed_model", config.Backend.EmbedModel).
		Str("chat_model", config.Backend.ChatModel).
		Str("storage", config.Storage.Badger.Path).
		Msg("Chantier RAG service")
}

package telegram

import (
	"errors"

	"github.com/memohai/keyreply/internal/channel"
)

// Config holds the Telegram bot credentials extracted from a channel configuration.
type Config struct {
	BotToken string
}

func parseConfig(cfg channel.ChannelConfig) (Config, error) {
	token := cfg.Credential("bot_token")
	if token == "" {
		return Config{}, errors.New("telegram bot_token is required")
	}
	return Config{BotToken: token}, nil
}

package discord

import (
	"fmt"
	"strings"

	"github.com/memohai/keyreply/internal/channel"
)

type Config struct {
	BotToken string
}

func parseConfig(cfg channel.ChannelConfig) (Config, error) {
	token := cfg.Credential("token")
	if token == "" {
		token = cfg.Credential("bot_token")
	}
	if token == "" {
		return Config{}, fmt.Errorf("discord token is required")
	}
	return Config{BotToken: strings.TrimPrefix(token, "Bot ")}, nil
}

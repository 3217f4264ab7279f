package channel

import (
	"strconv"
	"strings"

	"github.com/memohai/keyreply/internal/config"
)

// ConfigsFrom lists the transports enabled in cfg. A transport is enabled when its credentials
// (or, for the browser, its enabled flag) are present.
func ConfigsFrom(cfg config.Config) []ChannelConfig {
	var out []ChannelConfig
	add := func(ct string, creds map[string]string) {
		out = append(out, ChannelConfig{ID: ct, ChannelType: ChannelType(ct), Credentials: creds})
	}
	if cfg.Twilio.Enabled() {
		add("twilio", map[string]string{
			"account_sid": cfg.Twilio.AccountSID,
			"auth_token":  cfg.Twilio.AuthToken,
			"from_number": cfg.Twilio.FromNumber,
			"base_url":    cfg.Twilio.BaseURL,
		})
	}
	if strings.TrimSpace(cfg.Telegram.BotToken) != "" {
		add("telegram", map[string]string{"bot_token": cfg.Telegram.BotToken})
	}
	if strings.TrimSpace(cfg.Discord.Token) != "" {
		add("discord", map[string]string{"token": cfg.Discord.Token})
	}
	if strings.TrimSpace(cfg.Slack.BotToken) != "" && strings.TrimSpace(cfg.Slack.AppToken) != "" {
		add("slack", map[string]string{"bot_token": cfg.Slack.BotToken, "app_token": cfg.Slack.AppToken})
	}
	if strings.TrimSpace(cfg.Bridge.URL) != "" {
		add("bridge", map[string]string{"url": cfg.Bridge.URL})
	}
	if cfg.Browser.Enabled {
		add("browser", map[string]string{
			"url":              cfg.Browser.URL,
			"bin":              cfg.Browser.Bin,
			"user_data_dir":    cfg.Browser.UserDataDir,
			"headless":         strconv.FormatBool(cfg.Browser.Headless),
			"poll_interval":    cfg.Browser.PollInterval.String(),
			"selector_message": cfg.Browser.Selectors.Message,
			"selector_chat":    cfg.Browser.Selectors.ChatTitle,
			"selector_compose": cfg.Browser.Selectors.Compose,
			"selector_send":    cfg.Browser.Selectors.Send,
		})
	}
	return out
}

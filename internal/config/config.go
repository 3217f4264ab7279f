// Package config loads the keyreply process configuration (TOML).
//
// The reply rules themselves (keywords, sender rules, templates) are not part of this file: they
// live in the settings store and are edited through the admin API.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":5000"
	DefaultStoreBackend  = "json"
	DefaultSettingsPath  = "config.json"
	DefaultReplyWorkers  = 4
	DefaultReplyQueue    = 256
	DefaultTwilioBaseURL = "https://api.twilio.com"
	DefaultWhatsAppURL   = "https://web.whatsapp.com"
	DefaultPollInterval  = 3 * time.Second
)

// Config is the root process configuration.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Reply    ReplyConfig    `toml:"reply"`
	Twilio   TwilioConfig   `toml:"twilio"`
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
	Slack    SlackConfig    `toml:"slack"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Browser  BrowserConfig  `toml:"browser"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP listen address for the webhook and admin API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// StoreConfig selects where reply settings are persisted.
// Backend is one of json, yaml, sqlite, postgres, badger.
type StoreConfig struct {
	Backend  string         `toml:"backend"`
	Path     string         `toml:"path"`
	Watch    bool           `toml:"watch"`
	Postgres PostgresConfig `toml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters for the postgres backend.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// ReplyConfig tunes the dispatch path.
// FallbackText, when set, is broadcast for messages that match no keyword.
type ReplyConfig struct {
	FallbackText string `toml:"fallback_text"`
	Workers      int    `toml:"workers"`
	QueueSize    int    `toml:"queue_size"`
}

// TwilioConfig holds WhatsApp-over-Twilio credentials used for direct sends.
type TwilioConfig struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	FromNumber string `toml:"from_number"`
	BaseURL    string `toml:"base_url"`
}

// Enabled reports whether direct sends through Twilio are possible.
func (c TwilioConfig) Enabled() bool {
	return strings.TrimSpace(c.AccountSID) != "" && strings.TrimSpace(c.AuthToken) != "" && strings.TrimSpace(c.FromNumber) != ""
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

type DiscordConfig struct {
	Token string `toml:"token"`
}

type SlackConfig struct {
	BotToken string `toml:"bot_token"`
	AppToken string `toml:"app_token"`
}

// BridgeConfig points at a whatsapp-web websocket bridge.
type BridgeConfig struct {
	URL string `toml:"url"`
}

// BrowserConfig drives the WhatsApp Web automation transport.
type BrowserConfig struct {
	Enabled      bool             `toml:"enabled"`
	Headless     bool             `toml:"headless"`
	Bin          string           `toml:"bin"`
	UserDataDir  string           `toml:"user_data_dir"`
	URL          string           `toml:"url"`
	PollInterval Duration         `toml:"poll_interval"`
	Selectors    BrowserSelectors `toml:"selectors"`
}

// BrowserSelectors are the CSS selectors the poll loop relies on.
type BrowserSelectors struct {
	Message   string `toml:"message"`
	ChatTitle string `toml:"chat_title"`
	Compose   string `toml:"compose"`
	Send      string `toml:"send"`
}

// Duration decodes TOML strings such as "3s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
			Path:    DefaultSettingsPath,
			Postgres: PostgresConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "postgres",
				Database: "keyreply",
				SSLMode:  "disable",
			},
		},
		Reply: ReplyConfig{
			Workers:   DefaultReplyWorkers,
			QueueSize: DefaultReplyQueue,
		},
		Twilio: TwilioConfig{
			BaseURL: DefaultTwilioBaseURL,
		},
		Browser: BrowserConfig{
			Headless:     true,
			URL:          DefaultWhatsAppURL,
			PollInterval: Duration{DefaultPollInterval},
			Selectors: BrowserSelectors{
				Message:   "span.selectable-text",
				ChatTitle: "header span[title]",
				Compose:   "div[title='Type a message']",
				Send:      "span[data-icon='send']",
			},
		},
	}
}

// Load reads the TOML file at path over Defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and the listen address from the environment.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			*dst = value
		}
	}
	set(&cfg.Server.Addr, "HTTP_ADDR")
	set(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	set(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	set(&cfg.Twilio.FromNumber, "TWILIO_WHATSAPP_NUMBER")
	set(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&cfg.Discord.Token, "DISCORD_BOT_TOKEN")
	set(&cfg.Slack.BotToken, "SLACK_BOT_TOKEN")
	set(&cfg.Slack.AppToken, "SLACK_APP_TOKEN")
	if port := strings.TrimSpace(getenv("PORT")); port != "" && strings.TrimSpace(getenv("HTTP_ADDR")) == "" {
		cfg.Server.Addr = ":" + port
	}
	return cfg
}

package browser

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/keyreply/internal/channel"
)

const (
	defaultURL          = "https://web.whatsapp.com/"
	defaultPollInterval = 3 * time.Second
)

type Selectors struct {
	Message   string
	ChatTitle string
	Compose   string
	Send      string
}

type Config struct {
	URL          string
	Bin          string
	UserDataDir  string
	Headless     bool
	PollInterval time.Duration
	Selectors    Selectors
}

func parseConfig(cfg channel.ChannelConfig) (Config, error) {
	c := Config{
		URL:         cfg.Credential("url"),
		Bin:         cfg.Credential("bin"),
		UserDataDir: cfg.Credential("user_data_dir"),
		Headless:    true,
		Selectors: Selectors{
			Message:   cfg.Credential("selector_message"),
			ChatTitle: cfg.Credential("selector_chat"),
			Compose:   cfg.Credential("selector_compose"),
			Send:      cfg.Credential("selector_send"),
		},
	}
	if c.URL == "" {
		c.URL = defaultURL
	}
	if raw := cfg.Credential("headless"); raw != "" {
		headless, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, errors.New("browser headless must be a boolean")
		}
		c.Headless = headless
	}
	c.PollInterval = defaultPollInterval
	if raw := cfg.Credential("poll_interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, errors.New("browser poll_interval must be a positive duration")
		}
		c.PollInterval = d
	}
	if c.Selectors.Message == "" || c.Selectors.Compose == "" || c.Selectors.Send == "" {
		return Config{}, errors.New("browser message, compose and send selectors are required")
	}
	return c, nil
}

// directURL opens a chat with phone on WhatsApp Web. Only digits survive; WhatsApp rejects a
// leading + or separators.
func directURL(base, phone string) (string, error) {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", errors.New("direct target has no phone digits")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/send"
	u.RawQuery = url.Values{"phone": {digits.String()}}.Encode()
	return u.String(), nil
}

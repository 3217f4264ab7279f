// Package twilio sends replies through the Twilio Messages REST API. Inbound Twilio traffic
// arrives on the HTTP webhook, so this adapter only sends.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/memohai/keyreply/internal/channel"
)

const Type channel.ChannelType = "twilio"

const (
	defaultBaseURL = "https://api.twilio.com"
	whatsappPrefix = "whatsapp:"
)

type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

func parseConfig(cfg channel.ChannelConfig) (Config, error) {
	c := Config{
		AccountSID: cfg.Credential("account_sid"),
		AuthToken:  cfg.Credential("auth_token"),
		FromNumber: cfg.Credential("from_number"),
		BaseURL:    strings.TrimRight(cfg.Credential("base_url"), "/"),
	}
	if c.AccountSID == "" || c.AuthToken == "" || c.FromNumber == "" {
		return Config{}, errors.New("twilio account_sid, auth_token and from_number are required")
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	return c, nil
}

// APIError is the error body Twilio returns for a rejected request.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio error %d (status %d): %s", e.Code, e.Status, e.Message)
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type TwilioAdapter struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*resty.Client
}

func NewTwilioAdapter(log *slog.Logger) *TwilioAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &TwilioAdapter{
		logger:  log.With(slog.String("adapter", "twilio")),
		clients: map[string]*resty.Client{},
	}
}

func (a *TwilioAdapter) Type() channel.ChannelType {
	return Type
}

func (a *TwilioAdapter) client(cfg channel.ChannelConfig, twilioCfg Config) *resty.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[cfg.ID]; ok {
		return c
	}
	c := resty.New().
		SetBaseURL(twilioCfg.BaseURL).
		SetBasicAuth(twilioCfg.AccountSID, twilioCfg.AuthToken).
		SetTimeout(15 * time.Second)
	a.clients[cfg.ID] = c
	return c
}

// Send posts one message. Twilio has no conversation to thread into, so broadcast and direct
// both address msg.Target.
func (a *TwilioAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	twilioCfg, err := parseConfig(cfg)
	if err != nil {
		return err
	}
	to := normalizeAddress(msg.Target, twilioCfg.FromNumber)
	if to == "" {
		return fmt.Errorf("twilio target is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("message is required")
	}

	var result messageResponse
	var apiErr APIError
	resp, err := a.client(cfg, twilioCfg).R().
		SetContext(ctx).
		SetPathParam("sid", twilioCfg.AccountSID).
		SetFormData(map[string]string{
			"From": twilioCfg.FromNumber,
			"To":   to,
			"Body": msg.Text,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	if resp.IsError() {
		if apiErr.Message == "" {
			apiErr.Status = resp.StatusCode()
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return &apiErr
	}
	a.logger.Debug("message queued", slog.String("sid", result.SID), slog.String("status", result.Status), slog.String("to", to))
	return nil
}

// normalizeAddress gives a bare number the whatsapp: prefix when the sending number uses it.
func normalizeAddress(target, from string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if strings.HasPrefix(from, whatsappPrefix) && !strings.HasPrefix(target, whatsappPrefix) {
		return whatsappPrefix + target
	}
	return target
}

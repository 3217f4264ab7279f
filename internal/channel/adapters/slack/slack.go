// Package slack receives channel and DM messages over Socket Mode and replies with the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/adapterutil"
	"github.com/memohai/keyreply/internal/settings"
)

const Type channel.ChannelType = "slack"

type Config struct {
	BotToken string
	AppToken string
}

func parseConfig(cfg channel.ChannelConfig) (Config, error) {
	c := Config{BotToken: cfg.Credential("bot_token"), AppToken: cfg.Credential("app_token")}
	if c.BotToken == "" || c.AppToken == "" {
		return Config{}, errors.New("slack bot_token and app_token are required")
	}
	return c, nil
}

type SlackAdapter struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*slack.Client
}

func NewSlackAdapter(log *slog.Logger) *SlackAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &SlackAdapter{
		logger:  log.With(slog.String("adapter", "slack")),
		clients: map[string]*slack.Client{},
	}
}

func (a *SlackAdapter) Type() channel.ChannelType {
	return Type
}

func (a *SlackAdapter) client(cfg channel.ChannelConfig) (*slack.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if api, ok := a.clients[cfg.ID]; ok {
		return api, nil
	}
	slackCfg, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := slack.New(slackCfg.BotToken, slack.OptionAppLevelToken(slackCfg.AppToken))
	a.clients[cfg.ID] = api
	return api, nil
}

func (a *SlackAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	api, err := a.client(cfg)
	if err != nil {
		return nil, err
	}
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth test: %w", err)
	}
	socket := socketmode.New(api)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case event, ok := <-socket.Events:
				if !ok {
					return
				}
				if event.Type != socketmode.EventTypeEventsAPI {
					continue
				}
				if event.Request != nil {
					socket.Ack(*event.Request)
				}
				apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
				if !ok {
					continue
				}
				msg, ok := toInbound(ev, auth.UserID)
				if !ok {
					continue
				}
				a.logger.Debug(
					"inbound received",
					slog.String("config_id", cfg.ID),
					slog.String("channel_id", msg.Conversation.ID),
					slog.String("sender", msg.Sender.ExternalID),
					slog.String("text", adapterutil.SummarizeText(msg.Text)),
				)
				if err := handler(connCtx, cfg, msg); err != nil {
					a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				}
			}
		}
	}()
	go func() {
		if err := socket.RunContext(connCtx); err != nil && connCtx.Err() == nil {
			a.logger.Error("socket mode stopped", slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	}()

	stop := func(context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		cancel()
		return nil
	}
	return channel.NewConnection(cfg, stop), nil
}

func (a *SlackAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	api, err := a.client(cfg)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("slack target is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("message is required")
	}
	if msg.Mode == settings.Direct {
		im, _, _, err := api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{target}})
		if err != nil {
			return fmt.Errorf("open slack dm: %w", err)
		}
		target = im.ID
	}
	if _, _, err := api.PostMessageContext(ctx, target, messageOptions(msg)...); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// messageOptions threads broadcast replies under the inbound message; direct replies start a
// fresh DM.
func messageOptions(msg channel.OutboundMessage) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.Mode == settings.Broadcast && strings.TrimSpace(msg.ReplyTo) != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	return opts
}

func toInbound(ev *slackevents.MessageEvent, botUserID string) (channel.InboundMessage, bool) {
	if ev == nil || ev.User == "" || ev.User == botUserID || ev.BotID != "" {
		return channel.InboundMessage{}, false
	}
	if ev.SubType != "" {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return channel.InboundMessage{}, false
	}
	convType := "channel"
	if ev.ChannelType == "im" || strings.HasPrefix(ev.Channel, "D") {
		convType = "im"
	}
	// Replies to a threaded message stay in that thread.
	replyTo := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		replyTo = ev.ThreadTimeStamp
	}
	return channel.InboundMessage{
		Channel:      Type,
		ID:           replyTo,
		Text:         text,
		Sender:       channel.Identity{ExternalID: ev.User},
		Conversation: channel.Conversation{ID: ev.Channel, Type: convType},
	}, true
}

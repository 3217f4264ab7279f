// Package discord answers guild and DM messages through a Discord bot session.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/adapterutil"
	"github.com/memohai/keyreply/internal/settings"
)

const Type channel.ChannelType = "discord"

// Discord rejects messages longer than this.
const maxMessageLength = 2000

type DiscordAdapter struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*discordgo.Session
}

func NewDiscordAdapter(log *slog.Logger) *DiscordAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordAdapter{
		logger:   log.With(slog.String("adapter", "discord")),
		sessions: map[string]*discordgo.Session{},
	}
}

func (a *DiscordAdapter) Type() channel.ChannelType {
	return Type
}

func (a *DiscordAdapter) session(cfg channel.ChannelConfig) (*discordgo.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[cfg.ID]; ok {
		return s, nil
	}
	discordCfg, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("Bot " + discordCfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	a.sessions[cfg.ID] = s
	return s, nil
}

func (a *DiscordAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	s, err := a.session(cfg)
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(ctx)
	removeHandler := s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		msg, ok := toInbound(m, selfID)
		if !ok {
			return
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
	})
	if err := s.Open(); err != nil {
		removeHandler()
		cancel()
		return nil, fmt.Errorf("open discord session: %w", err)
	}

	stop := func(context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		cancel()
		removeHandler()
		return s.Close()
	}
	return channel.NewConnection(cfg, stop), nil
}

func (a *DiscordAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	s, err := a.session(cfg)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("discord target is required")
	}
	text := truncate(msg.Text, maxMessageLength)
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message is required")
	}

	if msg.Mode == settings.Direct {
		dm, err := s.UserChannelCreate(target, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("open discord dm: %w", err)
		}
		target = dm.ID
	}
	send := &discordgo.MessageSend{Content: text}
	if msg.Mode == settings.Broadcast && strings.TrimSpace(msg.ReplyTo) != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: target}
	}
	if _, err := s.ChannelMessageSendComplex(target, send, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// toInbound maps a MessageCreate event. Bots, including this one, are ignored.
func toInbound(m *discordgo.MessageCreate, selfID string) (channel.InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return channel.InboundMessage{}, false
	}
	if m.Author.Bot || (selfID != "" && m.Author.ID == selfID) {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return channel.InboundMessage{}, false
	}
	displayName := m.Author.GlobalName
	if displayName == "" {
		displayName = m.Author.Username
	}
	convType := "guild"
	if m.GuildID == "" {
		convType = "dm"
	}
	return channel.InboundMessage{
		Channel:      Type,
		ID:           m.ID,
		Text:         text,
		Sender:       channel.Identity{ExternalID: m.Author.ID, DisplayName: displayName},
		Conversation: channel.Conversation{ID: m.ChannelID, Type: convType},
		ReceivedAt:   m.Timestamp.UTC(),
	}, true
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

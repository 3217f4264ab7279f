// Package telegram receives messages by long polling the Bot API and replies into the chat or
// privately to the sender.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/adapterutil"
	"github.com/memohai/keyreply/internal/settings"
)

const Type channel.ChannelType = "telegram"

type TelegramAdapter struct {
	logger *slog.Logger

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

func NewTelegramAdapter(log *slog.Logger) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   map[string]*tgbotapi.BotAPI{},
	}
}

func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

func (a *TelegramAdapter) bot(cfg channel.ChannelConfig) (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[cfg.ID]; ok {
		return bot, nil
	}
	telegramCfg, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(telegramCfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	a.bots[cfg.ID] = bot
	return bot, nil
}

func (a *TelegramAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	bot, err := a.bot(cfg)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					return
				}
				msg, ok := toInbound(update.Message)
				if !ok {
					continue
				}
				a.logger.Debug(
					"inbound received",
					slog.String("config_id", cfg.ID),
					slog.String("chat_id", msg.Conversation.ID),
					slog.String("sender", msg.Sender.ExternalID),
					slog.String("text", adapterutil.SummarizeText(msg.Text)),
				)
				if err := handler(connCtx, cfg, msg); err != nil {
					a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				}
			}
		}
	}()

	stop := func(context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		cancel()
		return nil
	}
	return channel.NewConnection(cfg, stop), nil
}

func (a *TelegramAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	bot, err := a.bot(cfg)
	if err != nil {
		return err
	}
	message, err := buildMessage(msg)
	if err != nil {
		return err
	}
	if _, err := bot.Send(message); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// toInbound maps a Telegram message. Sender rules are keyed by the numeric user id.
func toInbound(m *tgbotapi.Message) (channel.InboundMessage, bool) {
	if m == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	if text == "" {
		return channel.InboundMessage{}, false
	}
	externalID, displayName := resolveTelegramSender(m)
	msg := channel.InboundMessage{
		Channel:    Type,
		ID:         strconv.Itoa(m.MessageID),
		Text:       text,
		Sender:     channel.Identity{ExternalID: externalID, DisplayName: displayName},
		ReceivedAt: time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.Chat != nil {
		msg.Conversation = channel.Conversation{
			ID:   strconv.FormatInt(m.Chat.ID, 10),
			Type: strings.TrimSpace(m.Chat.Type),
			Name: strings.TrimSpace(m.Chat.Title),
		}
	}
	return msg, true
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string) {
	if msg == nil {
		return "", ""
	}
	if msg.From != nil {
		displayName := strings.TrimSpace(msg.From.UserName)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
		return strconv.FormatInt(msg.From.ID, 10), displayName
	}
	if msg.SenderChat != nil {
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.SenderChat.UserName)
		}
		return strconv.FormatInt(msg.SenderChat.ID, 10), displayName
	}
	return "", ""
}

// buildMessage targets the chat (threaded under the inbound message) for broadcast and the user
// id for direct. A user's id doubles as their private chat id.
func buildMessage(msg channel.OutboundMessage) (tgbotapi.MessageConfig, error) {
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return tgbotapi.MessageConfig{}, fmt.Errorf("telegram target is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return tgbotapi.MessageConfig{}, fmt.Errorf("message is required")
	}
	var message tgbotapi.MessageConfig
	if strings.HasPrefix(target, "@") {
		message = tgbotapi.NewMessageToChannel(target, msg.Text)
	} else {
		chatID, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return tgbotapi.MessageConfig{}, fmt.Errorf("telegram target must be @username or chat_id")
		}
		message = tgbotapi.NewMessage(chatID, msg.Text)
	}
	if msg.Mode == settings.Broadcast {
		if replyTo, err := strconv.Atoi(strings.TrimSpace(msg.ReplyTo)); err == nil && replyTo > 0 {
			message.ReplyToMessageID = replyTo
		}
	}
	return message, nil
}

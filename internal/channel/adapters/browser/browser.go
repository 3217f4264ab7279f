// Package browser drives WhatsApp Web in a headless Chrome. It polls the open chat for the
// newest message and types replies into the compose box.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/adapterutil"
	"github.com/memohai/keyreply/internal/settings"
)

const Type channel.ChannelType = "browser"

const actionTimeout = 20 * time.Second

type session struct {
	cfg     Config
	browser *rod.Browser
	page    *rod.Page
	// mu serializes page use between the poll loop and Send, and guards seen.
	mu   sync.Mutex
	seen lastSeen
}

type BrowserAdapter struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewBrowserAdapter(log *slog.Logger) *BrowserAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &BrowserAdapter{
		logger:   log.With(slog.String("adapter", "browser")),
		sessions: map[string]*session{},
	}
}

func (a *BrowserAdapter) Type() channel.ChannelType {
	return Type
}

func (a *BrowserAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	browserCfg, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.logger.Info("start", slog.String("config_id", cfg.ID), slog.Bool("headless", browserCfg.Headless))

	l := launcher.New().Headless(browserCfg.Headless)
	if browserCfg.Bin != "" {
		l = l.Bin(browserCfg.Bin)
	}
	// A persistent profile keeps the WhatsApp Web login across restarts.
	if browserCfg.UserDataDir != "" {
		l = l.UserDataDir(browserCfg.UserDataDir)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	connCtx, cancel := context.WithCancel(ctx)
	b := rod.New().ControlURL(controlURL).Context(connCtx)
	if err := b.Connect(); err != nil {
		cancel()
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: browserCfg.URL})
	if err != nil {
		cancel()
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("open whatsapp web: %w", err)
	}
	s := &session{cfg: browserCfg, browser: b, page: page}
	a.mu.Lock()
	a.sessions[cfg.ID] = s
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.poll(connCtx, cfg, s, handler)
	}()

	stop := func(stopCtx context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		cancel()
		select {
		case <-done:
		case <-stopCtx.Done():
		}
		a.mu.Lock()
		delete(a.sessions, cfg.ID)
		a.mu.Unlock()
		err := b.Close()
		l.Kill()
		return err
	}
	return channel.NewConnection(cfg, stop), nil
}

func (a *BrowserAdapter) poll(ctx context.Context, cfg channel.ChannelConfig, s *session, handler channel.InboundHandler) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		chat, text, fresh, err := s.next(ctx)
		if err != nil {
			a.logger.Debug("poll failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
			continue
		}
		if !fresh {
			continue
		}
		msg := channel.InboundMessage{
			Channel: Type,
			// The DOM exposes no stable message id.
			ID:           uuid.NewString(),
			Text:         text,
			Sender:       channel.Identity{ExternalID: chat, DisplayName: chat},
			Conversation: channel.Conversation{ID: chat, Name: chat},
			ReceivedAt:   time.Now().UTC(),
		}
		a.logger.Debug(
			"inbound received",
			slog.String("config_id", cfg.ID),
			slog.String("chat", chat),
			slog.String("text", adapterutil.SummarizeText(text)),
		)
		if err := handler(ctx, cfg, msg); err != nil {
			a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	}
}

// next reads the newest message and reports whether it is one the poll loop has not handled yet.
func (s *session) next(ctx context.Context) (chat, text string, fresh bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, text, err = s.latest(ctx)
	if err != nil {
		return "", "", false, err
	}
	return chat, text, s.seen.advance(chat, text), nil
}

// latest returns the open chat's title and its newest message text. Callers hold mu.
func (s *session) latest(ctx context.Context) (string, string, error) {
	page := s.page.Context(ctx)
	elements, err := page.Elements(s.cfg.Selectors.Message)
	if err != nil {
		return "", "", err
	}
	if elements.Empty() {
		return "", "", nil
	}
	text, err := elements.Last().Text()
	if err != nil {
		return "", "", err
	}
	chat := ""
	if s.cfg.Selectors.ChatTitle != "" {
		if has, el, err := page.Has(s.cfg.Selectors.ChatTitle); err == nil && has {
			if title, err := el.Attribute("title"); err == nil && title != nil {
				chat = strings.TrimSpace(*title)
			}
			if chat == "" {
				chat, _ = el.Text()
				chat = strings.TrimSpace(chat)
			}
		}
	}
	return chat, strings.TrimSpace(text), nil
}

func (a *BrowserAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("message is required")
	}
	a.mu.Lock()
	s, ok := a.sessions[cfg.ID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("browser session not running")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	page := s.page.Context(ctx).Timeout(actionTimeout)

	if msg.Mode == settings.Direct {
		target, err := directURL(s.cfg.URL, msg.Target)
		if err != nil {
			return err
		}
		if err := page.Navigate(target); err != nil {
			return fmt.Errorf("open direct chat: %w", err)
		}
		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("open direct chat: %w", err)
		}
	}
	compose, err := page.Element(s.cfg.Selectors.Compose)
	if err != nil {
		return fmt.Errorf("compose box not found: %w", err)
	}
	if err := compose.Input(msg.Text); err != nil {
		return fmt.Errorf("type reply: %w", err)
	}
	button, err := page.Element(s.cfg.Selectors.Send)
	if err != nil {
		return fmt.Errorf("send button not found: %w", err)
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click send: %w", err)
	}
	s.seen.sent(msg.Text, msg.Mode == settings.Direct)
	return nil
}

// maxOwn bounds the replies remembered while waiting for them to show up in the chat.
const maxOwn = 8

// lastSeen reports a message once. The poll loop sees the same newest message on every tick
// until a new one arrives or the operator switches chats. Replies typed by Send show up as the
// newest message too and are never reported.
type lastSeen struct {
	chat string
	text string
	init bool
	// resync adopts the next observation silently; Send navigated to another chat.
	resync bool
	own    []string
}

func (l *lastSeen) advance(chat, text string) bool {
	if text == "" {
		return false
	}
	if !l.init || l.resync {
		// The message already on screen at start-up (or after a navigation) is not new.
		l.chat, l.text, l.init, l.resync = chat, text, true, false
		l.consumeOwn(text)
		return false
	}
	if chat == l.chat && text == l.text {
		return false
	}
	l.chat, l.text = chat, text
	return !l.consumeOwn(text)
}

// sent records a reply typed into chat. switched is true when Send opened a different chat.
func (l *lastSeen) sent(text string, switched bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(l.own) == maxOwn {
		l.own = l.own[1:]
	}
	l.own = append(l.own, text)
	if switched {
		l.resync = true
	}
}

func (l *lastSeen) consumeOwn(text string) bool {
	for i, own := range l.own {
		if own == text {
			l.own = append(l.own[:i], l.own[i+1:]...)
			return true
		}
	}
	return false
}

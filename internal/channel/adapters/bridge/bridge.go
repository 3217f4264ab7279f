// Package bridge talks to a whatsapp-web bridge over a websocket. The bridge pushes one JSON
// frame per received message and accepts one frame per reply.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/adapterutil"
)

const Type channel.ChannelType = "bridge"

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
)

var ErrNotConnected = errors.New("bridge connection not established")

// Frame is the wire format in both directions.
type Frame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	From     string `json:"from,omitempty"`
	FromName string `json:"from_name,omitempty"`
	Chat     string `json:"chat,omitempty"`
	To       string `json:"to,omitempty"`
	Content  string `json:"content"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

type BridgeAdapter struct {
	logger *slog.Logger
	dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*websocket.Conn
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

func NewBridgeAdapter(log *slog.Logger) *BridgeAdapter {
	if log == nil {
		log = slog.Default()
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout
	return &BridgeAdapter{
		logger: log.With(slog.String("adapter", "bridge")),
		dialer: &dialer,
		conns:  map[string]*websocket.Conn{},
	}
}

func (a *BridgeAdapter) Type() channel.ChannelType {
	return Type
}

// Connect dials the bridge and keeps redialing with backoff until stopped.
func (a *BridgeAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	url := cfg.Credential("url")
	if url == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	a.logger.Info("start", slog.String("config_id", cfg.ID), slog.String("url", url))
	conn, err := a.dial(ctx, cfg.ID, url)
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		backoff := minBackoff
		for {
			a.readLoop(connCtx, cfg, conn, handler)
			a.drop(cfg.ID, conn)
			for {
				select {
				case <-connCtx.Done():
					return
				case <-time.After(backoff):
				}
				next, err := a.dial(connCtx, cfg.ID, url)
				if err == nil {
					conn = next
					backoff = minBackoff
					break
				}
				a.logger.Warn("redial failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				backoff = min(backoff*2, maxBackoff)
			}
		}
	}()

	stop := func(stopCtx context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		cancel()
		a.mu.Lock()
		if current := a.conns[cfg.ID]; current != nil {
			_ = current.Close()
		}
		a.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
	return channel.NewConnection(cfg, stop), nil
}

func (a *BridgeAdapter) dial(ctx context.Context, id, url string) (*websocket.Conn, error) {
	conn, _, err := a.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	a.mu.Lock()
	a.conns[id] = conn
	a.mu.Unlock()
	return conn, nil
}

func (a *BridgeAdapter) drop(id string, conn *websocket.Conn) {
	a.mu.Lock()
	if a.conns[id] == conn {
		delete(a.conns, id)
	}
	a.mu.Unlock()
	_ = conn.Close()
}

func (a *BridgeAdapter) readLoop(ctx context.Context, cfg channel.ChannelConfig, conn *websocket.Conn, handler channel.InboundHandler) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("read failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.logger.Warn("invalid frame", slog.String("config_id", cfg.ID), slog.Any("error", err))
			continue
		}
		msg, ok := toInbound(frame)
		if !ok {
			continue
		}
		a.logger.Debug(
			"inbound received",
			slog.String("config_id", cfg.ID),
			slog.String("chat", msg.Conversation.ID),
			slog.String("sender", msg.Sender.ExternalID),
			slog.String("text", adapterutil.SummarizeText(msg.Text)),
		)
		if err := handler(ctx, cfg, msg); err != nil {
			a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	}
}

// Send writes one reply frame. The bridge addresses groups and users the same way, so the
// target alone decides where it lands.
func (a *BridgeAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("bridge target is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("message is required")
	}
	a.mu.Lock()
	conn := a.conns[cfg.ID]
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(Frame{Type: "message", To: target, Content: msg.Text, ReplyTo: msg.ReplyTo})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("bridge send: %w", err)
	}
	return nil
}

func toInbound(frame Frame) (channel.InboundMessage, bool) {
	if frame.Type != "message" {
		return channel.InboundMessage{}, false
	}
	from := strings.TrimSpace(frame.From)
	text := strings.TrimSpace(frame.Content)
	if from == "" || text == "" {
		return channel.InboundMessage{}, false
	}
	chat := strings.TrimSpace(frame.Chat)
	convType := "direct"
	if chat == "" {
		chat = from
	} else if chat != from {
		convType = "group"
	}
	return channel.InboundMessage{
		Channel:      Type,
		ID:           frame.ID,
		Text:         text,
		Sender:       channel.Identity{ExternalID: from, DisplayName: frame.FromName},
		Conversation: channel.Conversation{ID: chat, Type: convType},
		ReceivedAt:   time.Now().UTC(),
	}, true
}

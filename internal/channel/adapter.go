package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler receives every message a transport picks up. Manager.HandleInbound is the only
// implementation outside tests; it queues the message and returns without waiting for the reply.
type InboundHandler func(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error

// Adapter is a chat transport (Telegram, Discord, Slack, Twilio, the WhatsApp bridge or the
// WhatsApp Web browser). An adapter also implements Sender, Receiver or both; the Registry
// discovers which by type assertion.
type Adapter interface {
	Type() ChannelType
}

// Sender posts one reply. Broadcast replies go to msg.Target as a conversation, direct replies
// open or address a one-to-one chat with msg.Target.
type Sender interface {
	Send(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) error
}

// Receiver listens for inbound messages until the returned Connection is stopped. Twilio has no
// Receiver: its traffic arrives on the webhook.
type Receiver interface {
	Connect(ctx context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error)
}

// Connection is one running receiver (a long poll, a gateway session, a socket or a browser).
type Connection interface {
	ConfigID() string
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection wraps an adapter's stop function. Concurrent Stop calls run it once.
type BaseConnection struct {
	configID    string
	channelType ChannelType
	stop        func(ctx context.Context) error

	stopMu  sync.Mutex
	running atomic.Bool
}

func NewConnection(cfg ChannelConfig, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		configID:    cfg.ID,
		channelType: cfg.ChannelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

func (c *BaseConnection) ConfigID() string {
	return c.configID
}

func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop ends the receiver. A failed stop leaves the connection marked running so it can be retried.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if !c.running.Load() {
		return nil
	}
	if err := c.stop(ctx); err != nil {
		return err
	}
	c.running.Store(false)
	return nil
}

func (c *BaseConnection) Running() bool {
	return c.running.Load()
}

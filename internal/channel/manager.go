package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/memohai/keyreply/internal/reply"
	"github.com/memohai/keyreply/internal/settings"
)

// Dispatcher turns one inbound message into at most one reply. reply.Engine implements it.
type Dispatcher interface {
	Handle(ctx context.Context, msg reply.Inbound, delivery reply.Delivery) (reply.Result, error)
}

// ManagerOptions sizes the inbound worker pool.
type ManagerOptions struct {
	Workers   int
	QueueSize int
}

// Manager connects every configured receiver and feeds inbound messages through a bounded queue
// to a fixed pool of workers. Each message is dispatched on its own; a slow or failing send only
// holds up the worker handling it.
type Manager struct {
	registry   *Registry
	dispatcher Dispatcher
	logger     *slog.Logger

	inboundQueue   chan inboundTask
	inboundWorkers int
	inboundOnce    sync.Once
	inboundCtx     context.Context
	inboundCancel  context.CancelFunc
	workersDone    sync.WaitGroup

	mu          sync.Mutex
	configs     map[ChannelType]ChannelConfig
	connections map[string]*connectionEntry
}

type connectionEntry struct {
	config     ChannelConfig
	connection Connection
}

type inboundTask struct {
	ctx context.Context
	cfg ChannelConfig
	msg InboundMessage
}

func NewManager(log *slog.Logger, registry *Registry, dispatcher Dispatcher, opts ManagerOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Manager{
		registry:       registry,
		dispatcher:     dispatcher,
		logger:         log.With(slog.String("component", "channel")),
		inboundQueue:   make(chan inboundTask, opts.QueueSize),
		inboundWorkers: opts.Workers,
		configs:        map[ChannelType]ChannelConfig{},
		connections:    map[string]*connectionEntry{},
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start launches the workers and connects a receiver for every config whose adapter can receive.
// Configs whose adapter only sends are kept for direct delivery. A connect failure is logged and
// does not stop the other transports.
func (m *Manager) Start(ctx context.Context, configs []ChannelConfig) {
	m.logger.Info("manager start", slog.Int("configs", len(configs)))
	m.startInboundWorkers(ctx)
	for _, cfg := range configs {
		cfg.ChannelType = normalizeChannelType(cfg.ChannelType.String())
		if cfg.ID == "" {
			cfg.ID = cfg.ChannelType.String()
		}
		if _, ok := m.registry.Get(cfg.ChannelType); !ok {
			m.logger.Warn("no adapter for configured channel", slog.String("channel", cfg.ChannelType.String()))
			continue
		}
		m.mu.Lock()
		m.configs[cfg.ChannelType] = cfg
		m.mu.Unlock()
		// Receivers live until Shutdown, not for the lifetime of the start hook's context.
		if err := m.ensureConnection(m.inboundCtx, cfg); err != nil {
			m.logger.Error("adapter start failed", slog.String("channel", cfg.ChannelType.String()), slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	}
}

func (m *Manager) ensureConnection(ctx context.Context, cfg ChannelConfig) error {
	receiver, ok := m.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		return nil
	}
	m.mu.Lock()
	if entry, exists := m.connections[cfg.ID]; exists && entry.connection.Running() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.logger.Info("adapter start", slog.String("channel", cfg.ChannelType.String()), slog.String("config_id", cfg.ID))
	conn, err := receiver.Connect(ctx, cfg, m.HandleInbound)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.connections[cfg.ID] = &connectionEntry{config: cfg, connection: conn}
	m.mu.Unlock()
	return nil
}

// Connections lists the running receivers.
func (m *Manager) Connections() []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Connection, 0, len(m.connections))
	for _, entry := range m.connections {
		if entry.connection.Running() {
			out = append(out, entry.connection)
		}
	}
	return out
}

// HandleInbound queues msg for a worker. It never blocks: a full queue rejects the message.
func (m *Manager) HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if m.dispatcher == nil {
		return fmt.Errorf("inbound dispatcher not configured")
	}
	m.startInboundWorkers(ctx)
	if m.inboundCtx.Err() != nil {
		return fmt.Errorf("inbound dispatcher stopped")
	}
	taskCtx := context.Background()
	if ctx != nil {
		taskCtx = context.WithoutCancel(ctx)
	}
	select {
	case m.inboundQueue <- inboundTask{ctx: taskCtx, cfg: cfg, msg: msg}:
		return nil
	default:
		m.logger.Warn("inbound queue full, dropping message", slog.String("channel", msg.Channel.String()), slog.String("message_id", msg.ID))
		return fmt.Errorf("inbound queue full")
	}
}

// Dispatch handles msg synchronously on the caller's goroutine with the given delivery. The
// webhook uses it because its broadcast reply is the HTTP response.
func (m *Manager) Dispatch(ctx context.Context, msg InboundMessage, delivery reply.Delivery) (reply.Result, error) {
	if m.dispatcher == nil {
		return reply.Result{}, fmt.Errorf("inbound dispatcher not configured")
	}
	return m.dispatcher.Handle(ctx, toInbound(msg), delivery)
}

// Send delivers msg through the sender adapter registered for channelType.
func (m *Manager) Send(ctx context.Context, channelType ChannelType, msg OutboundMessage) error {
	channelType = normalizeChannelType(channelType.String())
	sender, ok := m.registry.GetSender(channelType)
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", channelType)
	}
	if strings.TrimSpace(msg.Target) == "" {
		return fmt.Errorf("target is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("message is required")
	}
	m.mu.Lock()
	cfg, ok := m.configs[channelType]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel not configured: %s", channelType)
	}
	return sender.Send(ctx, cfg, msg)
}

// DeliveryFor maps reply modes onto the transport msg arrived on: broadcast answers in the
// originating conversation, direct messages the target.
func (m *Manager) DeliveryFor(cfg ChannelConfig, msg InboundMessage) reply.Delivery {
	return reply.DeliveryFunc(func(ctx context.Context, target string, mode settings.DeliveryMode, text string) error {
		out := OutboundMessage{Target: target, Mode: mode, Text: text}
		if mode == settings.Broadcast {
			out.Target = msg.ReplyConversation()
			out.ReplyTo = msg.ID
		}
		sender, ok := m.registry.GetSender(cfg.ChannelType)
		if !ok {
			return fmt.Errorf("channel %s cannot send", cfg.ChannelType)
		}
		return sender.Send(ctx, cfg, out)
	})
}

func (m *Manager) startInboundWorkers(ctx context.Context) {
	m.inboundOnce.Do(func() {
		workerCtx := context.Background()
		if ctx != nil {
			workerCtx = context.WithoutCancel(ctx)
		}
		m.inboundCtx, m.inboundCancel = context.WithCancel(workerCtx)
		for i := 0; i < m.inboundWorkers; i++ {
			m.workersDone.Add(1)
			go m.runInboundWorker(m.inboundCtx)
		}
	})
}

func (m *Manager) runInboundWorker(ctx context.Context) {
	defer m.workersDone.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-m.inboundQueue:
			m.handleInbound(task.ctx, task.cfg, task.msg)
		}
	}
}

func (m *Manager) handleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("inbound processing panicked", slog.String("channel", msg.Channel.String()), slog.Any("panic", r))
		}
	}()
	if _, err := m.dispatcher.Handle(ctx, toInbound(msg), m.DeliveryFor(cfg, msg)); err != nil {
		var derr *reply.DeliveryError
		if !errors.As(err, &derr) {
			m.logger.Error("inbound processing failed", slog.String("channel", msg.Channel.String()), slog.Any("error", err))
		}
	}
}

// Shutdown stops every receiver and the worker pool. Queued messages that no worker has picked
// up are dropped.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAll(ctx)
	m.startInboundWorkers(ctx)
	m.inboundCancel()
	m.workersDone.Wait()
	m.logger.Info("manager stop")
	return nil
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.connections {
		m.logger.Info("adapter stop", slog.String("channel", entry.config.ChannelType.String()), slog.String("config_id", id))
		if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
			m.logger.Warn("adapter stop failed", slog.String("config_id", id), slog.Any("error", err))
		}
		delete(m.connections, id)
	}
}

func toInbound(msg InboundMessage) reply.Inbound {
	return reply.Inbound{
		Channel:   msg.Channel.String(),
		MessageID: msg.ID,
		Sender:    msg.SenderKey(),
		Text:      msg.Text,
	}
}

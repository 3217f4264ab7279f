package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/memohai/keyreply/internal/settings"
)

// Delivery performs the actual send for one message. Broadcast means into the conversation the
// message came from; direct means a separate outbound message to target.
type Delivery interface {
	Send(ctx context.Context, target string, mode settings.DeliveryMode, text string) error
}

// DeliveryFunc adapts a function to Delivery.
type DeliveryFunc func(ctx context.Context, target string, mode settings.DeliveryMode, text string) error

func (f DeliveryFunc) Send(ctx context.Context, target string, mode settings.DeliveryMode, text string) error {
	return f(ctx, target, mode, text)
}

// Snapshotter is the read side of settings.Store.
type Snapshotter interface {
	Get() settings.Settings
}

// Inbound is one physically received message.
type Inbound struct {
	Channel   string `json:"channel,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
}

// Outcome classifies how a message was handled.
type Outcome string

const (
	OutcomeNoMatch    Outcome = "no_match"
	OutcomeFallback   Outcome = "fallback"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
)

// Result reports what Handle did. Decision is zero unless a keyword matched.
type Result struct {
	Outcome        Outcome  `json:"outcome"`
	Decision       Decision `json:"decision"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

var ErrDelivery = errors.New("delivery failed")

// DeliveryError wraps the backend error of one failed dispatch.
type DeliveryError struct {
	Target string
	Mode   settings.DeliveryMode
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s to %s: %v", ErrDelivery, e.Mode, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDelivery, e.Err} }

type idempotencyKey struct{}

// WithIdempotencyKey attaches key to ctx for the delivery backend.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFrom returns the dispatch key set by the engine, if any.
func IdempotencyKeyFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// EngineOptions tunes Engine. FallbackText, when non-empty, is broadcast for non-empty messages
// that match no keyword.
type EngineOptions struct {
	FallbackText string
}

// Engine resolves inbound messages against the live settings and dispatches each decision once.
type Engine struct {
	source   Snapshotter
	fallback string
	stats    *Stats
	logger   *slog.Logger
}

func NewEngine(log *slog.Logger, source Snapshotter, opts EngineOptions) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		source:   source,
		fallback: strings.TrimSpace(opts.FallbackText),
		stats:    &Stats{},
		logger:   log.With(slog.String("service", "reply")),
	}
}

func (e *Engine) Stats() *Stats {
	return e.stats
}

// Preview resolves without dispatching.
func (e *Engine) Preview(sender, text string) (Decision, bool) {
	return Resolve(e.source.Get(), sender, text)
}

// Handle resolves msg against one snapshot and calls delivery at most once. It never retries.
// A *DeliveryError is returned when the backend fails; the error concerns this message only.
func (e *Engine) Handle(ctx context.Context, msg Inbound, delivery Delivery) (Result, error) {
	e.stats.received.Add(1)
	snapshot := e.source.Get()
	log := e.logger.With(
		slog.String("channel", msg.Channel),
		slog.String("sender", msg.Sender),
		slog.String("message_id", msg.MessageID),
	)

	decision, ok := Resolve(snapshot, msg.Sender, msg.Text)
	if !ok {
		if e.fallback == "" || strings.TrimSpace(msg.Text) == "" {
			e.stats.noMatch.Add(1)
			log.Debug("no keyword matched")
			return Result{Outcome: OutcomeNoMatch}, nil
		}
		key := uuid.NewString()
		if err := e.send(ctx, key, delivery, msg.Sender, settings.Broadcast, e.fallback); err != nil {
			e.stats.failed.Add(1)
			log.Warn("fallback delivery failed", slog.String("idempotency_key", key), slog.Any("error", err))
			return Result{Outcome: OutcomeFailed, IdempotencyKey: key}, err
		}
		e.stats.fallback.Add(1)
		log.Debug("sent fallback reply")
		return Result{Outcome: OutcomeFallback, IdempotencyKey: key}, nil
	}

	key := uuid.NewString()
	result := Result{Decision: decision, IdempotencyKey: key}
	log = log.With(
		slog.String("keyword", decision.MatchedKeyword),
		slog.String("mode", string(decision.DeliveryMode)),
		slog.String("idempotency_key", key),
	)
	if err := e.send(ctx, key, delivery, decision.Target, decision.DeliveryMode, decision.Template); err != nil {
		e.stats.failed.Add(1)
		log.Warn("reply delivery failed", slog.Any("error", err))
		result.Outcome = OutcomeFailed
		return result, err
	}
	e.stats.dispatched.Add(1)
	log.Info("reply dispatched")
	result.Outcome = OutcomeDispatched
	return result, nil
}

func (e *Engine) send(ctx context.Context, key string, delivery Delivery, target string, mode settings.DeliveryMode, text string) error {
	if delivery == nil {
		return &DeliveryError{Target: target, Mode: mode, Err: errors.New("no delivery configured")}
	}
	if err := delivery.Send(WithIdempotencyKey(ctx, key), target, mode, text); err != nil {
		var derr *DeliveryError
		if errors.As(err, &derr) {
			return err
		}
		return &DeliveryError{Target: target, Mode: mode, Err: err}
	}
	return nil
}

package reply

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/keyreply/internal/settings"
)

type recordedSend struct {
	target string
	mode   settings.DeliveryMode
	text   string
	key    string
}

type recordingDelivery struct {
	mu    sync.Mutex
	sends []recordedSend
	err   error
	hook  func()
}

func (d *recordingDelivery) Send(ctx context.Context, target string, mode settings.DeliveryMode, text string) error {
	if d.hook != nil {
		d.hook()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, recordedSend{target: target, mode: mode, text: text, key: IdempotencyKeyFrom(ctx)})
	return d.err
}

func newTestEngine(t *testing.T, cfg settings.Settings, opts EngineOptions) (*Engine, *settings.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := settings.NewStore(log, nil)
	require.NoError(t, store.Replace(context.Background(), cfg))
	return NewEngine(log, store, opts), store
}

func TestHandleDispatchesOnce(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, baseSettings(), EngineOptions{})
	delivery := &recordingDelivery{}

	res, err := engine.Handle(context.Background(), Inbound{Sender: "+999", Text: "I need Help please"}, delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	require.Len(t, delivery.sends, 1)
	assert.Equal(t, recordedSend{target: "+999", mode: settings.Direct, text: "Hi +999", key: res.IdempotencyKey}, delivery.sends[0])
	assert.NotEmpty(t, res.IdempotencyKey)
}

func TestHandleNoMatchSkipsDelivery(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, baseSettings(), EngineOptions{})
	delivery := &recordingDelivery{}

	res, err := engine.Handle(context.Background(), Inbound{Sender: "+999", Text: "hello"}, delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Empty(t, delivery.sends)
	assert.Equal(t, uint64(1), engine.Stats().Snapshot().NoMatch)
}

func TestHandleFailureIsDistinguishable(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, baseSettings(), EngineOptions{})
	boom := errors.New("twilio 500")
	delivery := &recordingDelivery{err: boom}

	res, err := engine.Handle(context.Background(), Inbound{Sender: "+1", Text: "help"}, delivery)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "help", res.Decision.MatchedKeyword)
	var derr *DeliveryError
	require.True(t, errors.As(err, &derr))
	assert.True(t, errors.Is(err, ErrDelivery))
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, delivery.sends, 1, "failed delivery must not be retried")

	// The next message is unaffected.
	delivery.err = nil
	res, err = engine.Handle(context.Background(), Inbound{Sender: "+2", Text: "help"}, delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)

	stats := engine.Stats().Snapshot()
	assert.Equal(t, StatsSnapshot{Received: 2, Dispatched: 1, Failed: 1}, stats)
}

func TestHandleFallbackText(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, baseSettings(), EngineOptions{FallbackText: "📌 لم أفهم طلبك، حاول مرة أخرى."})
	delivery := &recordingDelivery{}

	res, err := engine.Handle(context.Background(), Inbound{Sender: "+999", Text: "hello"}, delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	require.Len(t, delivery.sends, 1)
	assert.Equal(t, settings.Broadcast, delivery.sends[0].mode)

	res, err = engine.Handle(context.Background(), Inbound{Sender: "+999", Text: "  "}, delivery)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome, "empty input stays silent even with a fallback")
	assert.Len(t, delivery.sends, 1)
}

func TestHandleSnapshotSurvivesConcurrentReplace(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t, baseSettings(), EngineOptions{})

	changed := baseSettings()
	changed.Senders["+999"] = settings.SenderRule{ID: "+999", DeliveryMode: settings.Broadcast, TemplateChoice: settings.TemplateAr}
	changed.DefaultTemplateEn = "Changed {user}"

	delivery := &recordingDelivery{}
	delivery.hook = func() {
		// Replace lands while message M is in flight.
		if err := store.Replace(context.Background(), changed); err != nil {
			t.Errorf("Replace() error = %v", err)
		}
	}

	res, err := engine.Handle(context.Background(), Inbound{Sender: "+999", Text: "help"}, delivery)
	require.NoError(t, err)
	assert.Equal(t, settings.Direct, res.Decision.DeliveryMode)
	assert.Equal(t, "Hi +999", res.Decision.Template)

	next, ok := engine.Preview("+999", "help")
	require.True(t, ok)
	assert.Equal(t, settings.Broadcast, next.DeliveryMode, "later messages see the new snapshot")
}

func TestHandleNilDelivery(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, baseSettings(), EngineOptions{})
	res, err := engine.Handle(context.Background(), Inbound{Sender: "+1", Text: "help"}, nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestHandleConcurrentMessages(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, baseSettings(), EngineOptions{})
	delivery := &recordingDelivery{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Handle(context.Background(), Inbound{Sender: "+1", Text: "help"}, delivery)
		}()
	}
	wg.Wait()

	assert.Len(t, delivery.sends, 50)
	seen := map[string]bool{}
	for _, s := range delivery.sends {
		assert.False(t, seen[s.key], "idempotency keys must be unique")
		seen[s.key] = true
	}
}

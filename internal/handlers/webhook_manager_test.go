package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/twilio"
	"github.com/memohai/keyreply/internal/reply"
	"github.com/memohai/keyreply/internal/settings"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<Response></Response>`

type twilioRequest struct {
	path string
	auth string
	form url.Values
}

func newFakeTwilio(t *testing.T) (*httptest.Server, func() []twilioRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []twilioRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		user, pass, _ := r.BasicAuth()
		mu.Lock()
		reqs = append(reqs, twilioRequest{path: r.URL.Path, auth: user + ":" + pass, form: r.PostForm})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []twilioRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]twilioRequest(nil), reqs...)
	}
}

// newManagedWebhook wires the webhook to a real channel.Manager and reply.Engine, as serve does.
func newManagedWebhook(t *testing.T, log *slog.Logger, configs []channel.ChannelConfig) (*echo.Echo, *reply.Engine) {
	t.Helper()
	store := settings.NewStore(log, nil)
	require.NoError(t, store.Replace(context.Background(), testSettings()))
	engine := reply.NewEngine(log, store, reply.EngineOptions{})

	registry := channel.NewRegistry()
	registry.MustRegister(twilio.NewTwilioAdapter(log))
	manager := channel.NewManager(log, registry, engine, channel.ManagerOptions{Workers: 1})
	manager.Start(context.Background(), configs)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	e := echo.New()
	NewWebhookHandler(log, manager).Register(e)
	return e, engine
}

func TestWebhookDirectReplyThroughManager(t *testing.T) {
	t.Parallel()

	srv, requests := newFakeTwilio(t)
	e, engine := newManagedWebhook(t, discardLogger(), []channel.ChannelConfig{{
		ID:          "twilio",
		ChannelType: twilio.Type,
		Credentials: map[string]string{
			"account_sid": "AC123",
			"auth_token":  "secret",
			"from_number": "whatsapp:+14155238886",
			"base_url":    srv.URL,
		},
	}})

	rec := postWebhook(e, url.Values{"Body": {"help"}, "From": {"whatsapp:+999"}, "To": {"whatsapp:+14155238886"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, emptyTwiML, rec.Body.String())

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", got[0].path)
	assert.Equal(t, "AC123:secret", got[0].auth)
	assert.Equal(t, "whatsapp:+14155238886", got[0].form.Get("From"))
	assert.Equal(t, "whatsapp:+999", got[0].form.Get("To"))
	assert.Equal(t, "Hi whatsapp:+999", got[0].form.Get("Body"))
	assert.Equal(t, uint64(1), engine.Stats().Snapshot().Dispatched)
}

func TestWebhookDirectReplyWithoutTwilioCredentials(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	e, engine := newManagedWebhook(t, log, nil)

	rec := postWebhook(e, url.Values{"Body": {"help"}, "From": {"whatsapp:+999"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, emptyTwiML, rec.Body.String())

	stats := engine.Stats().Snapshot()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.Dispatched)
	out := logs.String()
	assert.True(t, strings.Contains(out, "webhook reply failed"), out)
	assert.True(t, strings.Contains(out, "channel not configured: twilio"), out)
}

func TestWebhookBroadcastThroughManagerStaysInline(t *testing.T) {
	t.Parallel()

	srv, requests := newFakeTwilio(t)
	e, _ := newManagedWebhook(t, discardLogger(), []channel.ChannelConfig{{
		ID:          "twilio",
		ChannelType: twilio.Type,
		Credentials: map[string]string{
			"account_sid": "AC123",
			"auth_token":  "secret",
			"from_number": "whatsapp:+14155238886",
			"base_url":    srv.URL,
		},
	}})

	rec := postWebhook(e, url.Values{"Body": {"HELP me"}, "From": {"whatsapp:+111"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Message>أهلاً whatsapp:+111</Message>")
	assert.Empty(t, requests(), "broadcast replies are the TwiML body")
}

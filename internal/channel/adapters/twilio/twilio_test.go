package twilio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/settings"
)

func testConfig(baseURL string) channel.ChannelConfig {
	return channel.ChannelConfig{
		ID:          "twilio",
		ChannelType: Type,
		Credentials: map[string]string{
			"account_sid": "AC123",
			"auth_token":  "secret",
			"from_number": "whatsapp:+14155238886",
			"base_url":    baseURL,
		},
	}
}

func TestSendPostsForm(t *testing.T) {
	t.Parallel()

	var got *http.Request
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		got = r
		form = map[string]string{"From": r.PostForm.Get("From"), "To": r.PostForm.Get("To"), "Body": r.PostForm.Get("Body")}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid":"SM1","status":"queued"}`)
	}))
	defer srv.Close()

	adapter := NewTwilioAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := adapter.Send(context.Background(), testConfig(srv.URL), channel.OutboundMessage{
		Target: "+15550001",
		Mode:   settings.Direct,
		Text:   "مرحبا",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", got.URL.Path)
	user, pass, ok := got.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "AC123", user)
	assert.Equal(t, "secret", pass)
	assert.Equal(t, map[string]string{"From": "whatsapp:+14155238886", "To": "whatsapp:+15550001", "Body": "مرحبا"}, form)
}

func TestSendReturnsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`)
	}))
	defer srv.Close()

	adapter := NewTwilioAdapter(nil)
	err := adapter.Send(context.Background(), testConfig(srv.URL), channel.OutboundMessage{Target: "whatsapp:+1", Text: "hi"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 21211, apiErr.Code)
}

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := testConfig("")
	parsed, err := parseConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, parsed.BaseURL)

	delete(cfg.Credentials, "auth_token")
	_, err = parseConfig(cfg)
	assert.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	tests := []struct{ target, from, want string }{
		{"+1", "whatsapp:+2", "whatsapp:+1"},
		{"whatsapp:+1", "whatsapp:+2", "whatsapp:+1"},
		{"+1", "+2", "+1"},
		{"  ", "+2", ""},
	}
	for _, tt := range tests {
		if got := normalizeAddress(tt.target, tt.from); got != tt.want {
			t.Errorf("normalizeAddress(%q, %q) = %q, want %q", tt.target, tt.from, got, tt.want)
		}
	}
}

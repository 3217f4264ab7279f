package browser

import (
	"testing"
	"time"

	"github.com/memohai/keyreply/internal/channel"
)

func validCredentials() map[string]string {
	return map[string]string{
		"selector_message": "span.selectable-text",
		"selector_compose": "div[title='Type a message']",
		"selector_send":    "span[data-icon='send']",
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(channel.ChannelConfig{Credentials: validCredentials()})
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if cfg.URL != defaultURL || cfg.PollInterval != defaultPollInterval || !cfg.Headless {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	creds := validCredentials()
	creds["poll_interval"] = "500ms"
	creds["headless"] = "false"
	cfg, err = parseConfig(channel.ChannelConfig{Credentials: creds})
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if cfg.PollInterval != 500*time.Millisecond || cfg.Headless {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	for _, bad := range []map[string]string{
		{"poll_interval": "-1s"},
		{"headless": "maybe"},
		{"selector_send": ""},
	} {
		creds := validCredentials()
		for k, v := range bad {
			creds[k] = v
		}
		if _, err := parseConfig(channel.ChannelConfig{Credentials: creds}); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestDirectURL(t *testing.T) {
	t.Parallel()

	got, err := directURL("https://web.whatsapp.com/", "whatsapp:+966 50-123")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://web.whatsapp.com/send?phone=96650123" {
		t.Fatalf("directURL() = %q", got)
	}
	if _, err := directURL(defaultURL, "Support Group"); err == nil {
		t.Fatalf("expected error for non-phone target")
	}
}

func TestLastSeen(t *testing.T) {
	t.Parallel()

	var l lastSeen
	steps := []struct {
		chat, text string
		want       bool
	}{
		{"A", "old", false},
		{"A", "old", false},
		{"A", "help", true},
		{"A", "help", false},
		{"B", "help", true},
		{"B", "", false},
	}
	for i, step := range steps {
		if got := l.advance(step.chat, step.text); got != step.want {
			t.Fatalf("step %d: advance(%q, %q) = %v, want %v", i, step.chat, step.text, got, step.want)
		}
	}
}

func TestLastSeenSkipsOwnReplies(t *testing.T) {
	t.Parallel()

	var l lastSeen
	l.advance("A", "old")
	if !l.advance("A", "help") {
		t.Fatalf("inbound keyword message not reported")
	}

	l.sent("we will help you", false)
	if l.advance("A", "help") {
		t.Fatalf("same message reported twice")
	}
	if l.advance("A", "we will help you") {
		t.Fatalf("own broadcast reply reported as inbound")
	}
	if l.advance("A", "we will help you") {
		t.Fatalf("own reply reported on a later tick")
	}
	if !l.advance("A", "help again") {
		t.Fatalf("next inbound message not reported")
	}

	// A direct send opens another chat; its history and the reply are both old.
	l.sent("Hi there", true)
	if l.advance("+966 50", "earlier message") {
		t.Fatalf("history of the newly opened chat reported")
	}
	if l.advance("+966 50", "Hi there") {
		t.Fatalf("own direct reply reported as inbound")
	}
	if !l.advance("+966 50", "help") {
		t.Fatalf("reply from the direct chat not reported")
	}
}

func TestLastSeenBoundsOwnReplies(t *testing.T) {
	t.Parallel()

	var l lastSeen
	for i := 0; i < maxOwn+3; i++ {
		l.sent(string(rune('a'+i)), false)
	}
	if len(l.own) != maxOwn {
		t.Fatalf("own = %d entries, want %d", len(l.own), maxOwn)
	}
	if l.own[0] != "d" {
		t.Fatalf("oldest kept reply = %q, want d", l.own[0])
	}
}

package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/keyreply/internal/channel"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	if _, err := parseConfig(channel.ChannelConfig{}); err == nil {
		t.Fatalf("expected missing token error")
	}
	cfg, err := parseConfig(channel.ChannelConfig{Credentials: map[string]string{"token": "Bot abc"}})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BotToken != "abc" {
		t.Fatalf("BotToken = %q", cfg.BotToken)
	}
}

func TestToInbound(t *testing.T) {
	t.Parallel()

	event := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   " need HELP ",
		Author:    &discordgo.User{ID: "u1", Username: "sara"},
	}}
	msg, ok := toInbound(event, "bot")
	if !ok {
		t.Fatalf("expected message")
	}
	if msg.Text != "need HELP" || msg.SenderKey() != "u1" || msg.ReplyConversation() != "c1" || msg.Conversation.Type != "guild" {
		t.Fatalf("unexpected inbound: %+v", msg)
	}

	event.Author = &discordgo.User{ID: "bot"}
	if _, ok := toInbound(event, "bot"); ok {
		t.Fatalf("own messages must be ignored")
	}
	event.Author = &discordgo.User{ID: "other", Bot: true}
	if _, ok := toInbound(event, "bot"); ok {
		t.Fatalf("bot messages must be ignored")
	}
	if _, ok := toInbound(nil, "bot"); ok {
		t.Fatalf("nil event must be ignored")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ب", maxMessageLength+10)
	if got := []rune(truncate(long, maxMessageLength)); len(got) != maxMessageLength {
		t.Fatalf("len = %d", len(got))
	}
	if got := truncate("short", maxMessageLength); got != "short" {
		t.Fatalf("truncate() = %q", got)
	}
}

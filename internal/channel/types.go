package channel

import (
	"strings"
	"time"

	"github.com/memohai/keyreply/internal/settings"
)

// ChannelType names a transport (twilio, telegram, ...).
type ChannelType string

func (c ChannelType) String() string {
	return string(c)
}

func normalizeChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}

// Identity is who sent a message, in the transport's own address space.
type Identity struct {
	ExternalID  string
	DisplayName string
}

// Conversation is where a message arrived (a group, a DM channel, a chat).
type Conversation struct {
	ID   string
	Type string
	Name string
}

type InboundMessage struct {
	Channel      ChannelType
	ID           string
	Text         string
	Sender       Identity
	Conversation Conversation
	ReceivedAt   time.Time
}

// ReplyConversation is where a broadcast reply goes. Transports without a conversation id
// answer the sender.
func (m InboundMessage) ReplyConversation() string {
	if id := strings.TrimSpace(m.Conversation.ID); id != "" {
		return id
	}
	return strings.TrimSpace(m.Sender.ExternalID)
}

// SenderKey is the id sender rules are looked up by.
func (m InboundMessage) SenderKey() string {
	return strings.TrimSpace(m.Sender.ExternalID)
}

// OutboundMessage is one reply. For broadcast, Target is the conversation and ReplyTo the
// inbound message id when the transport threads replies; for direct, Target is the sender.
type OutboundMessage struct {
	Target  string                `json:"target"`
	Mode    settings.DeliveryMode `json:"mode"`
	Text    string                `json:"text"`
	ReplyTo string                `json:"reply_to,omitempty"`
}

// ChannelConfig is one configured transport instance.
type ChannelConfig struct {
	ID          string
	ChannelType ChannelType
	Credentials map[string]string
}

func (c ChannelConfig) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return strings.TrimSpace(c.Credentials[key])
}

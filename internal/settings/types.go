// Package settings holds the reply rules (keywords, per-sender rules, default templates) and the
// store that serves snapshots of them to the dispatch path.
package settings

import (
	"errors"
	"fmt"
	"strings"
)

// Default reply templates. {user} is replaced with the sender id.
const (
	DefaultTemplateAr = "تفضل {user}، سيتم التواصل معك."
	DefaultTemplateEn = "Hi {user}, we will contact you shortly."
)

// DeliveryMode selects whether a reply goes back into the originating conversation or to the
// sender directly.
type DeliveryMode string

const (
	Broadcast DeliveryMode = "broadcast"
	Direct    DeliveryMode = "direct"
)

// ParseDeliveryMode accepts the canonical names and the legacy group/private aliases.
func ParseDeliveryMode(raw string) (DeliveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "broadcast", "group":
		return Broadcast, nil
	case "direct", "private":
		return Direct, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q", raw)
	}
}

func (m DeliveryMode) Valid() bool {
	return m == Broadcast || m == Direct
}

// TemplateChoice selects which template governs a known sender's reply.
type TemplateChoice string

const (
	TemplateAr     TemplateChoice = "ar"
	TemplateEn     TemplateChoice = "en"
	TemplateCustom TemplateChoice = "custom"
)

func ParseTemplateChoice(raw string) (TemplateChoice, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "ar":
		return TemplateAr, nil
	case "en":
		return TemplateEn, nil
	case "custom":
		return TemplateCustom, nil
	default:
		return "", fmt.Errorf("unknown template choice %q", raw)
	}
}

func (c TemplateChoice) Valid() bool {
	return c == TemplateAr || c == TemplateEn || c == TemplateCustom
}

// SenderRule overrides delivery and wording for one sender id.
type SenderRule struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"display_name,omitempty"`
	DeliveryMode   DeliveryMode   `json:"delivery_mode"`
	TemplateChoice TemplateChoice `json:"template_choice"`
	CustomTemplate string         `json:"custom_template,omitempty"`
}

// Settings is one immutable snapshot of the reply rules.
type Settings struct {
	Keywords          []string              `json:"keywords"`
	Senders           map[string]SenderRule `json:"senders"`
	DefaultTemplateAr string                `json:"default_template_ar"`
	DefaultTemplateEn string                `json:"default_template_en"`
}

// Default is the configuration materialised when nothing has been persisted yet.
func Default() Settings {
	return Settings{
		Keywords:          []string{},
		Senders:           map[string]SenderRule{},
		DefaultTemplateAr: DefaultTemplateAr,
		DefaultTemplateEn: DefaultTemplateEn,
	}
}

// Clone returns a deep copy. A nil collection stays nil so Validate still sees it.
func (s Settings) Clone() Settings {
	out := s
	if s.Keywords != nil {
		out.Keywords = append([]string(nil), s.Keywords...)
		if out.Keywords == nil {
			out.Keywords = []string{}
		}
	}
	if s.Senders != nil {
		out.Senders = make(map[string]SenderRule, len(s.Senders))
		for id, rule := range s.Senders {
			out.Senders[id] = rule
		}
	}
	return out
}

// Equal reports whether two snapshots carry the same rules.
func (s Settings) Equal(other Settings) bool {
	if s.DefaultTemplateAr != other.DefaultTemplateAr || s.DefaultTemplateEn != other.DefaultTemplateEn {
		return false
	}
	if len(s.Keywords) != len(other.Keywords) || len(s.Senders) != len(other.Senders) {
		return false
	}
	for i := range s.Keywords {
		if s.Keywords[i] != other.Keywords[i] {
			return false
		}
	}
	for id, rule := range s.Senders {
		if got, ok := other.Senders[id]; !ok || got != rule {
			return false
		}
	}
	return true
}

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrPersist         = errors.New("persist settings")
)

// ValidationError rejects a snapshot before it is swapped in.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidSettings, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidSettings, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSettings }

// PersistError means the snapshot is live in memory but the durable write failed.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPersist, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{ErrPersist, e.Err} }

// Validate normalises s (trimmed keywords, blank ones dropped) and rejects malformed shapes.
func Validate(s Settings) (Settings, error) {
	return validate(s, rejectBlankID)
}

// validateCarried is Validate, except that a blank-id rule carried over unchanged from live is
// accepted. Loading keeps an id-less persisted rule under the empty id, and edits made on top of
// such a snapshot must still go through.
func validateCarried(s Settings, live *Settings) (Settings, error) {
	return validate(s, func(key string, rule SenderRule) bool {
		if live == nil {
			return false
		}
		prev, ok := live.Senders[key]
		return ok && prev == rule
	})
}

func rejectBlankID(string, SenderRule) bool { return false }

func allowBlankID(string, SenderRule) bool { return true }

// validate checks s. keepBlankID decides, per normalised rule, whether a blank id is tolerated.
func validate(s Settings, keepBlankID func(key string, rule SenderRule) bool) (Settings, error) {
	if s.Keywords == nil {
		return Settings{}, &ValidationError{Field: "keywords", Reason: "collection is required"}
	}
	if s.Senders == nil {
		return Settings{}, &ValidationError{Field: "senders", Reason: "collection is required"}
	}
	out := Settings{
		Keywords:          make([]string, 0, len(s.Keywords)),
		Senders:           make(map[string]SenderRule, len(s.Senders)),
		DefaultTemplateAr: s.DefaultTemplateAr,
		DefaultTemplateEn: s.DefaultTemplateEn,
	}
	for _, kw := range s.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out.Keywords = append(out.Keywords, kw)
		}
	}
	for key, rule := range s.Senders {
		field := fmt.Sprintf("senders[%q]", key)
		if rule.ID != key {
			return Settings{}, &ValidationError{Field: field, Reason: fmt.Sprintf("id %q does not match key", rule.ID)}
		}
		if rule.DeliveryMode == "" {
			rule.DeliveryMode = Broadcast
		}
		if !rule.DeliveryMode.Valid() {
			return Settings{}, &ValidationError{Field: field + ".delivery_mode", Reason: fmt.Sprintf("unknown value %q", rule.DeliveryMode)}
		}
		if rule.TemplateChoice == "" {
			rule.TemplateChoice = TemplateAr
		}
		if !rule.TemplateChoice.Valid() {
			return Settings{}, &ValidationError{Field: field + ".template_choice", Reason: fmt.Sprintf("unknown value %q", rule.TemplateChoice)}
		}
		if strings.TrimSpace(rule.ID) == "" && !keepBlankID(key, rule) {
			return Settings{}, &ValidationError{Field: field, Reason: "id is required"}
		}
		out.Senders[key] = rule
	}
	return out, nil
}

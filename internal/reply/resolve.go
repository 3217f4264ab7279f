// Package reply decides whether and how to answer an inbound message and dispatches the answer.
package reply

import (
	"strings"

	"github.com/memohai/keyreply/internal/settings"
)

// UserToken is the only placeholder templates understand.
const UserToken = "{user}"

// Decision is the fully resolved outcome for one inbound message.
type Decision struct {
	MatchedKeyword string                `json:"matched_keyword"`
	Template       string                `json:"template"`
	DeliveryMode   settings.DeliveryMode `json:"delivery_mode"`
	Target         string                `json:"target"`
	KnownSender    bool                  `json:"known_sender"`
}

// Resolve matches text against cfg. ok is false when nothing should be sent.
//
// The first keyword in list order that occurs in the text (case-insensitive) wins. A sender with
// a rule gets its delivery mode and template choice; custom falls back to the language default
// when blank. An unknown sender always gets a broadcast of the Arabic default.
func Resolve(cfg settings.Settings, sender, text string) (Decision, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Decision{}, false
	}
	keyword, ok := matchKeyword(cfg.Keywords, text)
	if !ok {
		return Decision{}, false
	}

	decision := Decision{
		MatchedKeyword: keyword,
		DeliveryMode:   settings.Broadcast,
		Target:         sender,
	}
	template := cfg.DefaultTemplateAr
	if rule, found := cfg.Senders[sender]; found {
		decision.KnownSender = true
		if rule.DeliveryMode == settings.Direct {
			decision.DeliveryMode = settings.Direct
		}
		switch {
		case rule.TemplateChoice == settings.TemplateCustom && rule.CustomTemplate != "":
			template = rule.CustomTemplate
		case rule.TemplateChoice == settings.TemplateEn:
			template = cfg.DefaultTemplateEn
		}
	}
	decision.Template = Interpolate(template, sender)
	return decision, true
}

func matchKeyword(keywords []string, text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// Interpolate replaces every {user} in template with sender.
func Interpolate(template, sender string) string {
	return strings.ReplaceAll(template, UserToken, sender)
}

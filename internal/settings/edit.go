package settings

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by edits that target a keyword or sender that is not configured.
var ErrNotFound = errors.New("not found")

// The edit helpers work on a copy and return it; the caller submits the result with Store.Replace.

// AddKeyword appends kw unless an equal keyword (case-insensitive) is already listed.
func AddKeyword(s Settings, kw string) (Settings, error) {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return s, &ValidationError{Field: "keyword", Reason: "must not be empty"}
	}
	out := s.Clone()
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	for _, existing := range out.Keywords {
		if strings.EqualFold(existing, kw) {
			return out, nil
		}
	}
	out.Keywords = append(out.Keywords, kw)
	return out, nil
}

func RemoveKeyword(s Settings, kw string) (Settings, error) {
	kw = strings.TrimSpace(kw)
	out := s.Clone()
	kept := make([]string, 0, len(out.Keywords))
	removed := false
	for _, existing := range out.Keywords {
		if existing == kw {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return s, ErrNotFound
	}
	out.Keywords = kept
	return out, nil
}

// PutSender adds or replaces the rule for rule.ID.
func PutSender(s Settings, rule SenderRule) (Settings, error) {
	if strings.TrimSpace(rule.ID) == "" {
		return s, &ValidationError{Field: "id", Reason: "id is required"}
	}
	if rule.DeliveryMode == "" {
		rule.DeliveryMode = Broadcast
	}
	if rule.TemplateChoice == "" {
		rule.TemplateChoice = TemplateAr
	}
	out := s.Clone()
	if out.Senders == nil {
		out.Senders = map[string]SenderRule{}
	}
	out.Senders[rule.ID] = rule
	return out, nil
}

func RemoveSender(s Settings, id string) (Settings, error) {
	if _, ok := s.Senders[id]; !ok {
		return s, ErrNotFound
	}
	out := s.Clone()
	delete(out.Senders, id)
	return out, nil
}

// SetTemplates replaces the default templates. A nil pointer leaves that template as is.
func SetTemplates(s Settings, ar, en *string) Settings {
	out := s.Clone()
	if ar != nil {
		out.DefaultTemplateAr = *ar
	}
	if en != nil {
		out.DefaultTemplateEn = *en
	}
	return out
}

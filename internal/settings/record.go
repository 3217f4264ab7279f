package settings

import (
	"fmt"
	"sort"
)

// Record is the persisted layout. Keys follow the config.json written by earlier deployments so
// those files load unchanged.
type Record struct {
	Keywords          []string     `json:"keywords" yaml:"keywords"`
	Senders           []RuleRecord `json:"allowed_groups" yaml:"allowed_groups"`
	DefaultTemplateAr string       `json:"group_reply_template_ar" yaml:"group_reply_template_ar"`
	DefaultTemplateEn string       `json:"group_reply_template_en" yaml:"group_reply_template_en"`
	// EnableGroups is read only to detect the legacy browser-variant switch. It is never written.
	EnableGroups *bool `json:"enable_groups,omitempty" yaml:"enable_groups,omitempty"`
}

type RuleRecord struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	ReplyType      string `json:"reply_type" yaml:"reply_type"`
	Template       string `json:"template" yaml:"template"`
	CustomTemplate string `json:"custom_reply" yaml:"custom_reply"`
}

// ToRecord lays s out for persistence, sender rules sorted by id.
func ToRecord(s Settings) Record {
	rec := Record{
		Keywords:          append([]string{}, s.Keywords...),
		Senders:           make([]RuleRecord, 0, len(s.Senders)),
		DefaultTemplateAr: s.DefaultTemplateAr,
		DefaultTemplateEn: s.DefaultTemplateEn,
	}
	ids := make([]string, 0, len(s.Senders))
	for id := range s.Senders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rule := s.Senders[id]
		rec.Senders = append(rec.Senders, RuleRecord{
			ID:             rule.ID,
			Name:           rule.DisplayName,
			ReplyType:      string(rule.DeliveryMode),
			Template:       string(rule.TemplateChoice),
			CustomTemplate: rule.CustomTemplate,
		})
	}
	return rec
}

// FromRecord rebuilds a snapshot from persisted state. It is tolerant: a duplicate id keeps the
// first occurrence, a rule without an id is kept under the empty id, missing collections become
// empty. Each such repair is returned as a warning. Unknown enum values are still errors.
func FromRecord(rec Record) (Settings, []string, error) {
	var warnings []string
	out := Settings{
		Keywords:          []string{},
		Senders:           map[string]SenderRule{},
		DefaultTemplateAr: rec.DefaultTemplateAr,
		DefaultTemplateEn: rec.DefaultTemplateEn,
	}
	out.Keywords = append(out.Keywords, rec.Keywords...)
	for i, rr := range rec.Senders {
		mode, err := ParseDeliveryMode(rr.ReplyType)
		if err != nil {
			return Settings{}, warnings, &ValidationError{Field: fmt.Sprintf("allowed_groups[%d].reply_type", i), Reason: err.Error()}
		}
		choice, err := ParseTemplateChoice(rr.Template)
		if err != nil {
			return Settings{}, warnings, &ValidationError{Field: fmt.Sprintf("allowed_groups[%d].template", i), Reason: err.Error()}
		}
		if rr.ID == "" {
			warnings = append(warnings, fmt.Sprintf("allowed_groups[%d] has no id; kept under the empty id", i))
		}
		if _, exists := out.Senders[rr.ID]; exists {
			warnings = append(warnings, fmt.Sprintf("allowed_groups[%d] duplicates id %q; first occurrence wins", i, rr.ID))
			continue
		}
		out.Senders[rr.ID] = SenderRule{
			ID:             rr.ID,
			DisplayName:    rr.Name,
			DeliveryMode:   mode,
			TemplateChoice: choice,
			CustomTemplate: rr.CustomTemplate,
		}
	}
	if rec.EnableGroups != nil {
		warnings = append(warnings, "legacy enable_groups flag ignored; delivery follows each sender rule")
	}
	normalized, err := validate(out, allowBlankID)
	if err != nil {
		return Settings{}, warnings, err
	}
	return normalized, warnings, nil
}

package settings

import (
	"context"
	"errors"
	"testing"
)

func TestEditsApplyToCopy(t *testing.T) {
	t.Parallel()

	base := sampleSettings()

	added, err := AddKeyword(base, "  Order ")
	if err != nil {
		t.Fatalf("AddKeyword() error = %v", err)
	}
	if len(base.Keywords) != 2 {
		t.Fatalf("AddKeyword mutated its input")
	}
	if got := added.Keywords[len(added.Keywords)-1]; got != "Order" {
		t.Fatalf("appended keyword = %q", got)
	}
	if again, _ := AddKeyword(added, "ORDER"); len(again.Keywords) != len(added.Keywords) {
		t.Fatalf("duplicate keyword (case-insensitive) should not be appended")
	}

	removed, err := RemoveKeyword(added, "help")
	if err != nil {
		t.Fatalf("RemoveKeyword() error = %v", err)
	}
	if removed.Keywords[0] != "price" {
		t.Fatalf("keywords after remove = %q", removed.Keywords)
	}
	if _, err := RemoveKeyword(base, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	put, err := PutSender(base, SenderRule{ID: "+1", DisplayName: "new"})
	if err != nil {
		t.Fatalf("PutSender() error = %v", err)
	}
	if rule := put.Senders["+1"]; rule.DeliveryMode != Broadcast || rule.TemplateChoice != TemplateAr {
		t.Fatalf("PutSender defaults not applied: %+v", rule)
	}
	if _, ok := base.Senders["+1"]; ok {
		t.Fatalf("PutSender mutated its input")
	}
	if _, err := PutSender(base, SenderRule{}); err == nil {
		t.Fatalf("expected error for rule without id")
	}

	dropped, err := RemoveSender(put, "+999")
	if err != nil {
		t.Fatalf("RemoveSender() error = %v", err)
	}
	if _, ok := dropped.Senders["+999"]; ok {
		t.Fatalf("sender not removed")
	}
	if _, err := RemoveSender(base, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	en := "Hello {user}"
	tpl := SetTemplates(base, nil, &en)
	if tpl.DefaultTemplateEn != en || tpl.DefaultTemplateAr != base.DefaultTemplateAr {
		t.Fatalf("SetTemplates = %+v", tpl)
	}
}

func TestEditSubmittedAsOneReplace(t *testing.T) {
	t.Parallel()

	p := &memoryPersister{}
	store := newTestStore(p)
	if err := store.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	working, err := AddKeyword(store.Get(), "help")
	if err != nil {
		t.Fatalf("AddKeyword() error = %v", err)
	}
	if len(store.Get().Keywords) != 0 {
		t.Fatalf("edit leaked into live snapshot before Replace")
	}
	if err := store.Replace(context.Background(), working); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if got := store.Get().Keywords; len(got) != 1 || got[0] != "help" {
		t.Fatalf("keywords = %q", got)
	}
	if p.saves != 2 {
		t.Fatalf("saves = %d, want 2 (bootstrap + edit)", p.saves)
	}
}

package bus

import (
	"context"
	"testing"
	"time"
)

func TestDedupeCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewDedupeCache(time.Minute, 2)
	c.now = func() time.Time { return now }

	if c.IsDuplicate("a") {
		t.Fatal("first sighting must not be a duplicate")
	}
	if !c.IsDuplicate("a") {
		t.Fatal("second sighting must be a duplicate")
	}
	if c.IsDuplicate("") {
		t.Fatal("empty key is never a duplicate")
	}

	now = now.Add(2 * time.Minute)
	if c.IsDuplicate("a") {
		t.Error("expired key must be accepted again")
	}

	c.IsDuplicate("b")
	c.IsDuplicate("c")
	if c.Len() > 2 {
		t.Errorf("Len() = %d, want <= 2", c.Len())
	}
}

func TestMessageBus_Broadcast(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("one", func(e Event) { got = append(got, e.Name) })
	b.Broadcast(Event{Name: "bot.fired"})
	b.Unsubscribe("one")
	b.Broadcast(Event{Name: "bot.fired"})

	if len(got) != 1 {
		t.Errorf("handler called %d times, want 1", len(got))
	}
}

func TestNewRedisDedupe_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewRedisDedupe(ctx, "not a url", "p:", time.Minute, nil); err == nil {
		t.Error("expected error for malformed url")
	}
	if _, err := NewRedisDedupe(ctx, "redis://127.0.0.1:1/0", "p:", time.Minute, nil); err == nil {
		t.Error("expected error for unreachable server")
	}
}

package gitmon

import (
	"testing"
	"time"
)

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	events := make(chan Event)
	go h.Run(events)
	defer close(events)

	a := h.Subscribe("")
	b := h.Subscribe("")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	events <- Event{SessionID: "s1", SHA: "abc"}

	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.SHA != "abc" {
				t.Errorf("unexpected event: %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber never received event")
		}
	}
}

func TestHubSessionFilter(t *testing.T) {
	h := NewHub()
	events := make(chan Event)
	go h.Run(events)
	defer close(events)

	only := h.Subscribe("s2")
	all := h.Subscribe("")
	defer h.Unsubscribe(only)
	defer h.Unsubscribe(all)

	events <- Event{SessionID: "s1", SHA: "one"}
	events <- Event{SessionID: "s2", SHA: "two"}

	select {
	case ev := <-only:
		if ev.SessionID != "s2" {
			t.Fatalf("filter leaked event for %s", ev.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("filtered subscriber never received its event")
	}

	// The unfiltered subscriber sees both.
	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(2 * time.Second):
			t.Fatal("unfiltered subscriber missed an event")
		}
	}
}

func TestHubSlowSubscriberDropped(t *testing.T) {
	h := NewHub()

	slow := h.Subscribe("")
	defer h.Unsubscribe(slow)

	// Fill the buffer and then some; publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.publish(Event{SessionID: "s1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestHubUnsubscribeCloses(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe("")
	h.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("channel should be closed")
	}
	// Double unsubscribe is a no-op, not a double close.
	h.Unsubscribe(ch)
}

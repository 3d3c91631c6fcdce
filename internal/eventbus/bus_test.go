package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Kind: KindAlert, Data: "takeoff"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Kind != KindAlert {
				t.Fatalf("sub %d: unexpected kind %q", i, e.Kind)
			}
			if e.Time.IsZero() {
				t.Fatalf("sub %d: expected Publish to stamp time", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: event not delivered", i)
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Kind: KindAlert})
	// Buffer full: this must not block the publisher.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: KindProviderDegraded})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}

	if e := <-ch; e.Kind != KindAlert {
		t.Fatalf("expected first event retained, got %q", e.Kind)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected overflow event dropped, got %q", e.Kind)
	default:
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent
	// Must not panic on the now-closed channel.
	b.Publish(Event{Kind: KindConfigReloaded})
}

func TestRecorderRingOrder(t *testing.T) {
	r := NewRecorder(3)
	if got := r.Recent(); len(got) != 0 {
		t.Fatalf("expected empty recorder, got %d", len(got))
	}
	for _, kind := range []string{"a", "b", "c", "d", "e"} {
		r.Record(Event{Kind: kind})
	}
	got := r.Recent()
	if len(got) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(got))
	}
	if got[0].Kind != "c" || got[1].Kind != "d" || got[2].Kind != "e" {
		t.Fatalf("expected oldest-first c,d,e got %q,%q,%q", got[0].Kind, got[1].Kind, got[2].Kind)
	}
}

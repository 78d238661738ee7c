package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test", "message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageSent, ConversationID: "c1", Timestamp: time.Now(), Payload: 42})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageSent {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageSent)
		}
		if evt.Payload.(int) != 42 {
			t.Errorf("got payload %v, want 42", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test", "conversation.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageSent})
	b.Publish(Event{Kind: KindMembersChanged})

	select {
	case evt := <-ch:
		if evt.Kind != KindMembersChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMembersChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceReceivesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("all", "", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageRead})
	b.Publish(Event{Kind: KindTyping})
	if got := len(ch); got != 2 {
		t.Errorf("got %d buffered, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test", "message.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: KindMessageSent})

	if _, ok := <-ch; ok {
		t.Error("received event after unsubscribe")
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test", "message.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindMessageSent})
	b.Publish(Event{Kind: KindMessageEdited})

	evt := <-ch
	if evt.Kind != KindMessageSent {
		t.Errorf("got %q, want %s", evt.Kind, KindMessageSent)
	}
	if b.Dropped() != 1 {
		t.Errorf("got %d dropped, want 1", b.Dropped())
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test", "message.", 100)
	defer unsub()

	for i := 0; i < 50; i++ {
		b.Publish(Event{Kind: KindMessageSent, Payload: i})
	}
	for i := 0; i < 50; i++ {
		if got := (<-ch).Payload.(int); got != i {
			t.Fatalf("got %d at position %d", got, i)
		}
	}
}

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/service"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func runSink(t *testing.T, publish func(b *bus.Bus)) []kafkago.Message {
	t.Helper()
	b := bus.New()
	w := &fakeWriter{}
	sink := NewSink(b, w, 64)
	done := make(chan struct{})
	go func() {
		sink.Run(context.Background())
		close(done)
	}()
	publish(b)
	sink.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not stop")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.msgs
}

func TestSinkKeysByConversation(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := runSink(t, func(b *bus.Bus) {
		b.Publish(bus.Event{Kind: bus.KindMessageRead, ConversationID: "c1", Timestamp: at, Payload: service.MessageRead{ConversationID: "c1", ReadBy: "bob", LastSeenMessageID: 7}})
		b.Publish(bus.Event{Kind: bus.KindTyping, ConversationID: "c1", Timestamp: at, Payload: service.Typing{ConversationID: "c1", UserID: "bob"}})
		b.Publish(bus.Event{Kind: bus.KindMembersChanged, ConversationID: "c2", Timestamp: at, Payload: service.MembersChanged{Action: service.MemberAdded}})
	})

	if len(msgs) != 2 {
		t.Fatalf("got %d records, want 2 (typing is not exported)", len(msgs))
	}
	byKey := map[string]kafkago.Message{}
	for _, m := range msgs {
		byKey[string(m.Key)] = m
	}
	read, ok := byKey["c1"]
	if !ok {
		t.Fatalf("no record keyed c1: %+v", msgs)
	}
	if len(read.Headers) != 1 || string(read.Headers[0].Value) != bus.KindMessageRead {
		t.Errorf("headers = %+v", read.Headers)
	}
	var rec struct {
		Kind    string              `json:"kind"`
		Payload service.MessageRead `json:"payload"`
	}
	if err := jsoniter.Unmarshal(read.Value, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Kind != bus.KindMessageRead || rec.Payload.ReadBy != "bob" || rec.Payload.LastSeenMessageID != 7 {
		t.Errorf("record = %+v", rec)
	}
	if _, ok := byKey["c2"]; !ok {
		t.Error("membership change not exported")
	}
}

func TestSinkPreservesOrderWithinConversation(t *testing.T) {
	msgs := runSink(t, func(b *bus.Bus) {
		for i := int64(1); i <= 20; i++ {
			b.Publish(bus.Event{Kind: bus.KindMessageRead, ConversationID: "c1", Payload: service.MessageRead{LastSeenMessageID: i}})
		}
	})
	if len(msgs) != 20 {
		t.Fatalf("got %d records, want 20", len(msgs))
	}
	for i, m := range msgs {
		var rec struct {
			Payload service.MessageRead `json:"payload"`
		}
		if err := jsoniter.Unmarshal(m.Value, &rec); err != nil {
			t.Fatal(err)
		}
		if rec.Payload.LastSeenMessageID != int64(i+1) {
			t.Fatalf("record %d carries %d", i, rec.Payload.LastSeenMessageID)
		}
	}
}

func TestSinkAbandonedRunReleasesMerge(t *testing.T) {
	b := bus.New()
	sink := NewSink(b, &fakeWriter{}, 64)
	for i := 0; i < 10; i++ {
		b.Publish(bus.Event{Kind: bus.KindMessageRead, ConversationID: "c1", Payload: service.MessageRead{ConversationID: "c1"}})
		b.Publish(bus.Event{Kind: bus.KindMembersChanged, ConversationID: "c1", Payload: service.MembersChanged{Action: service.MemberAdded}})
	}

	// Истёкший срок остановки: Run выходит, не дочитав подписки.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Run(ctx)

	select {
	case <-sink.merged:
	case <-time.After(2 * time.Second):
		t.Fatal("merge goroutine still blocked after Run returned")
	}
	sink.Stop()
}

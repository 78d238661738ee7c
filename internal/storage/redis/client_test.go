package redis

import (
	"testing"

	jsoniter "github.com/json-iterator/go"

	"github.com/chatcore/internal/ws"
)

type recordingLocal struct {
	got map[string][]ws.OutgoingMessage
}

func (l *recordingLocal) SendToUser(userID string, msg ws.OutgoingMessage) bool {
	if l.got == nil {
		l.got = map[string][]ws.OutgoingMessage{}
	}
	l.got[userID] = append(l.got[userID], msg)
	return true
}

func TestDeliverFromOtherProcess(t *testing.T) {
	sender := &Relay{origin: "process-a"}
	local := &recordingLocal{}
	receiver := &Relay{origin: "process-b", local: local}

	data, err := sender.encode(ws.OutgoingMessage{Type: ws.EventTyping, Payload: ws.TypingPayload{ConversationID: "c1", UserID: "bob"}})
	if err != nil {
		t.Fatal(err)
	}
	receiver.deliver("user:alice", string(data))

	frames := local.got["alice"]
	if len(frames) != 1 || frames[0].Type != ws.EventTyping {
		t.Fatalf("frames = %+v", frames)
	}
	// The payload is forwarded as raw JSON and re-encodes unchanged.
	out, err := jsoniter.Marshal(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"typing","payload":{"conversation_id":"c1","user_id":"bob"}}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestDeliverSkipsOwnFramesAndJunk(t *testing.T) {
	local := &recordingLocal{}
	r := &Relay{origin: "process-a", local: local}

	data, err := r.encode(ws.OutgoingMessage{Type: ws.EventTyping, Payload: ws.TypingPayload{}})
	if err != nil {
		t.Fatal(err)
	}
	r.deliver("user:alice", string(data))
	r.deliver("user:alice", "not json")
	r.deliver("presence:alice", string(data))

	if len(local.got) != 0 {
		t.Errorf("unexpected deliveries: %+v", local.got)
	}
}

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type fakeActions struct {
	mu      sync.Mutex
	sends   []service.SendInput
	typing  []string
	sendErr error
}

func (f *fakeActions) Send(_ context.Context, in service.SendInput) (*service.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, in)
	return &service.SendResult{Message: model.Message{ID: int64(len(f.sends)), ConversationID: in.ConversationID, Content: in.Content}}, nil
}

func (f *fakeActions) Edit(_ context.Context, id int64, _, content string) (*model.Message, error) {
	return &model.Message{ID: id, Content: content}, nil
}

func (f *fakeActions) Recall(_ context.Context, id int64, _ string) (*service.Result, error) {
	return nil, apperr.Conflict(apperr.CodeAlreadyRecalled, "message already recalled")
}

func (f *fakeActions) Hide(_ context.Context, id int64, _ string) (*service.Result, error) {
	return &service.Result{Success: true, MessageID: id}, nil
}

func (f *fakeActions) DeleteForMe(_ context.Context, id int64, _ string) (*service.Result, error) {
	return &service.Result{Success: true, MessageID: id}, nil
}

func (f *fakeActions) MarkAsRead(context.Context, string, string) (*service.ReadResult, error) {
	return &service.ReadResult{}, nil
}

func (f *fakeActions) ToggleReaction(_ context.Context, id int64, user, emoji string) ([]model.Reaction, error) {
	return []model.Reaction{{MessageID: id, UserID: user, Emoji: emoji}}, nil
}

func (f *fakeActions) Typing(_ context.Context, conv, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, conv+"/"+user)
	return nil
}

type frame struct {
	Type    EventType           `json:"type"`
	Payload jsoniter.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T, actions Actions, cfg HubConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(actions, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, r.URL.Query().Get("user"))
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(func() {
		cancel()
		<-hub.done
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	eventually(t, func() bool { return hub.Online(user) })
	return conn
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func write(t *testing.T, conn *websocket.Conn, msg IncomingMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func TestSendActionAcksWithResult(t *testing.T) {
	actions := &fakeActions{}
	hub, url := newTestHub(t, actions, HubConfig{})
	conn := dial(t, hub, url, "alice")

	write(t, conn, IncomingMessage{Type: ActionSend, RequestID: "r1", ConversationID: "c1", Content: "hi", ClientMessageID: "k1"})
	f := read(t, conn)
	if f.Type != EventAck {
		t.Fatalf("got %s (%s), want ack", f.Type, f.Payload)
	}
	var ack struct {
		RequestID string             `json:"request_id"`
		Result    service.SendResult `json:"result"`
	}
	if err := json.Unmarshal(f.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.RequestID != "r1" || ack.Result.Message.Content != "hi" {
		t.Errorf("ack = %+v", ack)
	}

	actions.mu.Lock()
	defer actions.mu.Unlock()
	if len(actions.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(actions.sends))
	}
	in := actions.sends[0]
	if in.SenderID != "alice" || in.ConversationID != "c1" || in.ClientMessageID != "k1" {
		t.Errorf("input = %+v", in)
	}
}

func TestActionErrorCarriesCode(t *testing.T) {
	hub, url := newTestHub(t, &fakeActions{}, HubConfig{})
	conn := dial(t, hub, url, "alice")

	write(t, conn, IncomingMessage{Type: ActionRecall, RequestID: "r2", MessageID: 7})
	f := read(t, conn)
	if f.Type != EventError {
		t.Fatalf("got %s, want error", f.Type)
	}
	var p ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Code != apperr.CodeAlreadyRecalled || p.RequestID != "r2" {
		t.Errorf("payload = %+v", p)
	}
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	hub, url := newTestHub(t, &fakeActions{}, HubConfig{})
	conn := dial(t, hub, url, "alice")

	write(t, conn, IncomingMessage{Type: "message:pin"})
	var p ErrorPayload
	f := read(t, conn)
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if f.Type != EventError || p.Code != apperr.CodeInvalidInput {
		t.Errorf("unknown type: got %s %+v", f.Type, p)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	f = read(t, conn)
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if f.Type != EventError || p.Code != apperr.CodeInvalidInput {
		t.Errorf("malformed: got %s %+v", f.Type, p)
	}
}

func TestTypingHasNoAck(t *testing.T) {
	actions := &fakeActions{}
	hub, url := newTestHub(t, actions, HubConfig{})
	conn := dial(t, hub, url, "alice")

	write(t, conn, IncomingMessage{Type: ActionTyping, ConversationID: "c1"})
	write(t, conn, IncomingMessage{Type: ActionHide, RequestID: "after", MessageID: 3})
	f := read(t, conn)
	if f.Type != EventAck {
		t.Fatalf("got %s, want the hide ack first", f.Type)
	}
	actions.mu.Lock()
	defer actions.mu.Unlock()
	if len(actions.typing) != 1 || actions.typing[0] != "c1/alice" {
		t.Errorf("typing = %v", actions.typing)
	}
}

func TestInboundRateLimit(t *testing.T) {
	hub, url := newTestHub(t, &fakeActions{}, HubConfig{InboundRPS: 0.001, InboundBurst: 1})
	conn := dial(t, hub, url, "alice")

	write(t, conn, IncomingMessage{Type: ActionHide, RequestID: "1", MessageID: 1})
	write(t, conn, IncomingMessage{Type: ActionHide, RequestID: "2", MessageID: 1})
	if f := read(t, conn); f.Type != EventAck {
		t.Fatalf("first frame: got %s, want ack", f.Type)
	}
	f := read(t, conn)
	var p ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if f.Type != EventError || p.Code != apperr.CodeRateLimited || p.RequestID != "2" {
		t.Errorf("second frame: got %s %+v", f.Type, p)
	}
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	hub, url := newTestHub(t, &fakeActions{}, HubConfig{})
	a1 := dial(t, hub, url, "alice")
	a2 := dial(t, hub, url, "alice")
	eventually(t, func() bool { return hub.Connections() == 2 })

	if hub.SendToUser("bob", OutgoingMessage{Type: EventTyping}) {
		t.Error("SendToUser reported delivery to an offline user")
	}
	if !hub.SendToUser("alice", OutgoingMessage{Type: EventTyping, Payload: TypingPayload{ConversationID: "c1", UserID: "bob"}}) {
		t.Fatal("SendToUser reported no connection for alice")
	}
	for _, conn := range []*websocket.Conn{a1, a2} {
		if f := read(t, conn); f.Type != EventTyping {
			t.Errorf("got %s, want typing", f.Type)
		}
	}

	a1.Close()
	eventually(t, func() bool { return hub.Connections() == 1 })
	if !hub.Online("alice") {
		t.Error("alice should still be online through the second connection")
	}
}

func TestConnectionLimit(t *testing.T) {
	hub, url := newTestHub(t, &fakeActions{}, HubConfig{MaxConns: 1})
	dial(t, hub, url, "alice")

	conn, _, err := websocket.DefaultDialer.Dial(url+"?user=bob", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection over the limit was not closed")
	}
	if hub.Online("bob") {
		t.Error("bob registered past the limit")
	}
}

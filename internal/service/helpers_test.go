package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatcore/internal/access"
	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) Publish(evt bus.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) of(kind string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type env struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	clock  *fakeClock
	events *recorder
	svc    *Service
}

func newEnv(t *testing.T, mutate ...func(*Config)) *env {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := memory.New()
	rec := &recorder{}
	validator := access.NewValidator(st, access.NewCache(45*time.Second, clk.now))
	return &env{
		t:      t,
		ctx:    context.Background(),
		store:  st,
		clock:  clk,
		events: rec,
		svc:    New(st, validator, rec, cfg, WithClock(clk.now)),
	}
}

func (e *env) group(owner string, members ...string) string {
	e.t.Helper()
	conv, err := e.svc.CreateGroup(e.ctx, CreateGroupInput{OwnerID: owner, Name: "team", MemberIDs: members})
	if err != nil {
		e.t.Fatalf("CreateGroup: %v", err)
	}
	return conv.ID
}

func (e *env) private(a, b string) string {
	e.t.Helper()
	fid := "f-" + a + "-" + b
	e.store.PutFriendship(model.Friendship{ID: fid, RequesterID: a, AddresseeID: b, Status: model.FriendshipAccepted})
	conv, _, err := e.svc.CreatePrivateConversation(e.ctx, fid, a)
	if err != nil {
		e.t.Fatalf("CreatePrivateConversation: %v", err)
	}
	return conv.ID
}

func (e *env) send(conv, user, content string) model.Message {
	e.t.Helper()
	res, err := e.svc.Send(e.ctx, SendInput{ConversationID: conv, SenderID: user, Content: content})
	if err != nil {
		e.t.Fatalf("Send(%s): %v", content, err)
	}
	return res.Message
}

func (e *env) sendN(conv, user string, n int) []model.Message {
	e.t.Helper()
	out := make([]model.Message, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, e.send(conv, user, fmt.Sprintf("m%d", i)))
	}
	return out
}

func (e *env) membership(conv, user string) model.Membership {
	e.t.Helper()
	var m *model.Membership
	err := e.store.View(e.ctx, func(tx storage.Tx) error {
		var err error
		m, err = tx.Memberships().GetActive(e.ctx, conv, user)
		return err
	})
	if err != nil {
		e.t.Fatalf("membership %s/%s: %v", conv, user, err)
	}
	return *m
}

func (e *env) conversation(conv string) model.Conversation {
	e.t.Helper()
	var c *model.Conversation
	err := e.store.View(e.ctx, func(tx storage.Tx) error {
		var err error
		c, err = tx.Conversations().GetByID(e.ctx, conv)
		return err
	})
	if err != nil {
		e.t.Fatalf("conversation %s: %v", conv, err)
	}
	return *c
}

// checkUnread recomputes every active member's unread count from the
// message history and compares it with the stored counter.
func (e *env) checkUnread(conv string) {
	e.t.Helper()
	err := e.store.View(e.ctx, func(tx storage.Tx) error {
		members, err := tx.Memberships().ListActive(e.ctx, conv)
		if err != nil {
			return err
		}
		for _, m := range members {
			visible, err := tx.Messages().ListVisible(e.ctx, conv, m.UserID, 0, 1_000_000)
			if err != nil {
				return err
			}
			var want int64
			for _, msg := range visible {
				if msg.ID > m.SeenThrough() && msg.SenderID != m.UserID {
					want++
				}
			}
			if m.UnreadCount != want {
				e.t.Errorf("unread for %s: got %d, want %d", m.UserID, m.UnreadCount, want)
			}
		}
		return nil
	})
	if err != nil {
		e.t.Fatal(err)
	}
}

func wantCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if got := apperr.CodeOf(err); got != code {
		t.Fatalf("got code %q (err %v), want %q", got, err, code)
	}
}

func ptrVal(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

package service

import (
	"testing"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/model"
)

func TestEdit(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "helo")

	_, err := e.svc.Edit(e.ctx, msg.ID, "bob", "hijack")
	wantCode(t, err, apperr.CodeNotSender)

	_, err = e.svc.Edit(e.ctx, msg.ID, "alice", "  ")
	wantCode(t, err, apperr.CodeInvalidContent)

	e.clock.advance(14 * time.Minute)
	edited, err := e.svc.Edit(e.ctx, msg.ID, "alice", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if edited.Content != "hello" || edited.EditedAt == nil {
		t.Errorf("got %q edited at %v", edited.Content, edited.EditedAt)
	}
	if ptrVal(e.conversation(conv).LastMessageID) != msg.ID {
		t.Error("edit moved the last-message pointer")
	}
	events := e.events.of(bus.KindMessageEdited)
	if len(events) != 1 || !events[0].Payload.(MessageEdited).IsLastMessage {
		t.Errorf("got edited events %+v", events)
	}

	e.clock.advance(2 * time.Minute)
	_, err = e.svc.Edit(e.ctx, msg.ID, "alice", "too late")
	wantCode(t, err, apperr.CodeEditTimeLimitExceeded)
}

func TestEditRecalled(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "oops")
	if _, err := e.svc.Recall(e.ctx, msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := e.svc.Edit(e.ctx, msg.ID, "alice", "fixed")
	wantCode(t, err, apperr.CodeMessageRecalled)
}

func TestRecall(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "secret")

	_, err := e.svc.Recall(e.ctx, msg.ID, "bob")
	wantCode(t, err, apperr.CodeNotSender)

	res, err := e.svc.Recall(e.ctx, msg.ID, "alice")
	if err != nil || !res.Success || res.MessageID != msg.ID {
		t.Fatalf("got %+v, %v", res, err)
	}
	for _, viewer := range []string{"alice", "bob"} {
		page, err := e.svc.GetMessages(e.ctx, conv, viewer, 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		got := page.Messages[0]
		if !got.IsRecalled || got.Content != "" {
			t.Errorf("%s sees %q recalled=%v", viewer, got.Content, got.IsRecalled)
		}
	}

	_, err = e.svc.Recall(e.ctx, msg.ID, "alice")
	wantCode(t, err, apperr.CodeAlreadyRecalled)
}

func TestRecallTimeLimit(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "old news")
	e.clock.advance(15*time.Minute + time.Second)

	_, err := e.svc.Recall(e.ctx, msg.ID, "alice")
	wantCode(t, err, apperr.CodeRecallTimeLimitExceeded)
}

func TestRecallRedactsAttachments(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	res, err := e.svc.Send(e.ctx, SendInput{ConversationID: conv, SenderID: "alice",
		Attachments: []model.Attachment{{URL: "https://cdn.example.com/a.jpg", MediaType: model.MediaImage}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Recall(e.ctx, res.Message.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	page, err := e.svc.GetMessages(e.ctx, conv, "bob", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(page.Messages[0].Attachments); n != 0 {
		t.Errorf("got %d attachments on a recalled message", n)
	}
	if got := e.conversation(conv).Counters.SharedImages; got != 1 {
		t.Errorf("counters must not shrink, got %d images", got)
	}
}

func TestRecallRestoresHiddenTombstone(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "regret")

	if _, err := e.svc.Hide(e.ctx, msg.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if got := e.membership(conv, "bob").UnreadCount; got != 0 {
		t.Fatalf("hidden message still counted: %d", got)
	}
	if _, err := e.svc.Recall(e.ctx, msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	page, err := e.svc.GetMessages(e.ctx, conv, "bob", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || !page.Messages[0].IsRecalled {
		t.Fatalf("got %+v, want the recall tombstone", page.Messages)
	}
	if got := e.membership(conv, "bob").UnreadCount; got != 1 {
		t.Errorf("got unread %d, want 1", got)
	}
	e.checkUnread(conv)

	out := e.events.of(bus.KindMessageRecalled)[0].Payload.(MessageRecalled)
	if len(out.Restored) != 1 || out.Restored[0].UserID != "bob" {
		t.Errorf("got restored %+v", out.Restored)
	}
}

func TestRecallKeepsHidesWhenConfigured(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.RecallClearsHides = false })
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "regret")

	if _, err := e.svc.Hide(e.ctx, msg.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Recall(e.ctx, msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	page, err := e.svc.GetMessages(e.ctx, conv, "bob", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 0 {
		t.Errorf("got %d messages, want hidden", len(page.Messages))
	}
	e.checkUnread(conv)
}

func TestHideIsPerUser(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob", "carol")
	first := e.send(conv, "alice", "first")
	last := e.send(conv, "alice", "second")

	if _, err := e.svc.Hide(e.ctx, last.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	if got := ptrVal(e.conversation(conv).LastMessageID); got != last.ID {
		t.Errorf("pointer moved to %d on hide", got)
	}
	bob, err := e.svc.GetConversation(e.ctx, conv, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if bob.LastMessage == nil || bob.LastMessage.ID != first.ID {
		t.Errorf("bob's last message: got %+v, want %d", bob.LastMessage, first.ID)
	}
	if bob.UnreadCount != 1 {
		t.Errorf("bob unread: got %d, want 1", bob.UnreadCount)
	}
	carol, err := e.svc.GetConversation(e.ctx, conv, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if carol.LastMessage == nil || carol.LastMessage.ID != last.ID {
		t.Errorf("carol's last message: got %+v, want %d", carol.LastMessage, last.ID)
	}
	page, err := e.svc.GetMessages(e.ctx, conv, "carol", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 {
		t.Errorf("carol sees %d messages, want 2", len(page.Messages))
	}

	_, err = e.svc.Hide(e.ctx, last.ID, "bob")
	wantCode(t, err, apperr.CodeAlreadyHidden)
	e.checkUnread(conv)

	hidden := e.events.of(bus.KindMessageHidden)
	if len(hidden) != 1 || hidden[0].Payload.(MessageHidden).UserID != "bob" {
		t.Errorf("got hidden events %+v", hidden)
	}
}

func TestDeleteForMe(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "draft")

	_, err := e.svc.DeleteForMe(e.ctx, msg.ID, "bob")
	wantCode(t, err, apperr.CodeNotSender)

	if _, err := e.svc.DeleteForMe(e.ctx, msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	page, err := e.svc.GetMessages(e.ctx, conv, "alice", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 0 {
		t.Errorf("sender still sees %d messages", len(page.Messages))
	}
	if page, _ = e.svc.GetMessages(e.ctx, conv, "bob", 0, 10); len(page.Messages) != 1 {
		t.Errorf("recipient lost the message")
	}

	other := e.send(conv, "alice", "gone")
	if _, err := e.svc.Recall(e.ctx, other.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err = e.svc.DeleteForMe(e.ctx, other.ID, "alice")
	wantCode(t, err, apperr.CodeMessageRecalled)
}

func TestAdminDeleteRepointsLastMessage(t *testing.T) {
	e := newEnv(t)
	e.store.PutPermissions(model.UserPermissions{UserID: "root", DeleteOthersMessages: true})
	conv := e.group("alice", "bob")
	msgs := e.sendN(conv, "alice", 5)
	m4, m5 := msgs[3], msgs[4]

	if _, err := e.svc.AdminDelete(e.ctx, m5.ID, "root"); err != nil {
		t.Fatal(err)
	}
	c := e.conversation(conv)
	if ptrVal(c.LastMessageID) != m4.ID || !c.LastMessageAt.Equal(m4.CreatedAt) {
		t.Errorf("got last %d at %v, want %d at %v", ptrVal(c.LastMessageID), c.LastMessageAt, m4.ID, m4.CreatedAt)
	}
	if got := e.membership(conv, "bob").UnreadCount; got != 4 {
		t.Errorf("bob unread: got %d, want 4", got)
	}
	out := e.events.of(bus.KindMessageDeleted)[0].Payload.(MessageDeleted)
	if !out.Repointed || out.LastMessage == nil || out.LastMessage.ID != m4.ID {
		t.Errorf("got event %+v", out)
	}

	for i := 3; i >= 0; i-- {
		if _, err := e.svc.AdminDelete(e.ctx, msgs[i].ID, "root"); err != nil {
			t.Fatal(err)
		}
	}
	c = e.conversation(conv)
	if c.LastMessageID != nil || c.LastMessageAt != nil {
		t.Errorf("got last %v at %v, want none", c.LastMessageID, c.LastMessageAt)
	}
	e.checkUnread(conv)
}

func TestAdminDeleteOlderMessageKeepsPointer(t *testing.T) {
	e := newEnv(t)
	e.store.PutPermissions(model.UserPermissions{UserID: "root", Administrator: true})
	conv := e.group("alice", "bob")
	msgs := e.sendN(conv, "alice", 3)

	if _, err := e.svc.AdminDelete(e.ctx, msgs[1].ID, "root"); err != nil {
		t.Fatal(err)
	}
	if got := ptrVal(e.conversation(conv).LastMessageID); got != msgs[2].ID {
		t.Errorf("got last %d, want %d", got, msgs[2].ID)
	}
	e.checkUnread(conv)
}

func TestAdminDeleteRules(t *testing.T) {
	e := newEnv(t)
	e.store.PutPermissions(model.UserPermissions{UserID: "root", Administrator: true})
	conv := e.group("alice", "bob")
	msg := e.send(conv, "bob", "spam")

	_, err := e.svc.AdminDelete(e.ctx, msg.ID, "alice")
	wantCode(t, err, apperr.CodeNotPrivileged)

	if _, err := e.svc.AdminDelete(e.ctx, msg.ID, "root"); err != nil {
		t.Fatal(err)
	}
	_, err = e.svc.AdminDelete(e.ctx, msg.ID, "root")
	wantCode(t, err, apperr.CodeMessageDeleted)

	_, err = e.svc.Hide(e.ctx, msg.ID, "alice")
	wantCode(t, err, apperr.CodeMessageNotFound)

	_, err = e.svc.AdminDelete(e.ctx, 424242, "root")
	wantCode(t, err, apperr.CodeMessageNotFound)
}

func TestAdminDeleteClearsHides(t *testing.T) {
	e := newEnv(t)
	e.store.PutPermissions(model.UserPermissions{UserID: "root", Administrator: true})
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "x")
	if _, err := e.svc.Hide(e.ctx, msg.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.AdminDelete(e.ctx, msg.ID, "root"); err != nil {
		t.Fatal(err)
	}
	page, err := e.svc.GetMessages(e.ctx, conv, "alice", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 0 {
		t.Errorf("deleted message still visible")
	}
}

func TestToggleReactionRoundTrip(t *testing.T) {
	e := newEnv(t)
	conv := e.group("alice", "bob")
	msg := e.send(conv, "alice", "nice")

	got, err := e.svc.ToggleReaction(e.ctx, msg.ID, "bob", "👍")
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %v", got, err)
	}
	if got, err = e.svc.ToggleReaction(e.ctx, msg.ID, "alice", "👍"); err != nil || len(got) != 2 {
		t.Fatalf("got %v, %v", got, err)
	}
	if got, err = e.svc.ToggleReaction(e.ctx, msg.ID, "bob", "👍"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Errorf("got %+v, want only alice", got)
	}
	if got, err = e.svc.ToggleReaction(e.ctx, msg.ID, "alice", "👍"); err != nil || len(got) != 0 {
		t.Errorf("got %v, %v, want empty", got, err)
	}
	if n := len(e.events.of(bus.KindReaction)); n != 4 {
		t.Errorf("got %d reaction events, want 4", n)
	}

	_, err = e.svc.ToggleReaction(e.ctx, msg.ID, "bob", "")
	wantCode(t, err, apperr.CodeInvalidEmoji)
	_, err = e.svc.ToggleReaction(e.ctx, msg.ID, "mallory", "👍")
	wantCode(t, err, apperr.CodeNotMember)
}

package service

import (
	"errors"
	"testing"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

// Каждая транзакция, которая двигает указатель прочтения, пересчитывает unread
// или создаёт участника, сначала блокирует строку беседы. Если блокировка не
// взята, операция ничего не пишет.
func TestUnreadWritersLockConversationFirst(t *testing.T) {
	cases := []struct {
		name string
		run  func(e *env, conv string, msgs []model.Message) error
	}{
		{"send", func(e *env, conv string, _ []model.Message) error {
			_, err := e.svc.Send(e.ctx, SendInput{ConversationID: conv, SenderID: "alice", Content: "late"})
			return err
		}},
		{"mark as read", func(e *env, conv string, _ []model.Message) error {
			_, err := e.svc.MarkAsRead(e.ctx, conv, "bob")
			return err
		}},
		{"hide", func(e *env, _ string, msgs []model.Message) error {
			_, err := e.svc.Hide(e.ctx, msgs[1].ID, "bob")
			return err
		}},
		{"delete for me", func(e *env, _ string, msgs []model.Message) error {
			_, err := e.svc.DeleteForMe(e.ctx, msgs[1].ID, "alice")
			return err
		}},
		{"recall", func(e *env, _ string, msgs []model.Message) error {
			_, err := e.svc.Recall(e.ctx, msgs[2].ID, "alice")
			return err
		}},
		{"admin delete", func(e *env, _ string, msgs []model.Message) error {
			e.store.PutPermissions(model.UserPermissions{UserID: "root", Administrator: true})
			_, err := e.svc.AdminDelete(e.ctx, msgs[2].ID, "root")
			return err
		}},
		{"add member", func(e *env, conv string, _ []model.Message) error {
			_, err := e.svc.AddMember(e.ctx, conv, "alice", "carol")
			return err
		}},
		{"rebuild", func(e *env, conv string, _ []model.Message) error {
			_, err := e.svc.Rebuild(e.ctx, conv)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			conv := e.group("alice", "bob")
			msgs := e.sendN(conv, "alice", 3)
			before := e.conversation(conv)
			bobBefore := e.membership(conv, "bob")

			e.store.FailOn("conversations.GetForUpdate", errors.New("lock timeout"))
			err := tc.run(e, conv, msgs)
			ae, ok := apperr.As(err)
			if !ok || !ae.Retryable() {
				t.Fatalf("got %v, want retryable error", err)
			}

			after := e.conversation(conv)
			if ptrVal(after.LastMessageID) != ptrVal(before.LastMessageID) || after.Counters != before.Counters {
				t.Errorf("conversation changed: %+v, want %+v", after, before)
			}
			bob := e.membership(conv, "bob")
			if bob.UnreadCount != bobBefore.UnreadCount || ptrVal(bob.LastSeenMessageID) != ptrVal(bobBefore.LastSeenMessageID) {
				t.Errorf("bob changed: unread %d seen %d, want %d %d",
					bob.UnreadCount, ptrVal(bob.LastSeenMessageID), bobBefore.UnreadCount, ptrVal(bobBefore.LastSeenMessageID))
			}
			if _, err := e.svc.GetConversation(e.ctx, conv, "carol"); apperr.CodeOf(err) != apperr.CodeNotMember {
				t.Errorf("carol: got %v, want NOT_MEMBER", err)
			}
			e.checkUnread(conv)
		})
	}
}

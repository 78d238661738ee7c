package memory

import (
	"context"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type memberships struct{ *tx }

func (r memberships) active(conversationID, userID string) *model.Membership {
	for _, m := range r.st().memberships {
		if m.ConversationID == conversationID && m.UserID == userID && m.Active() {
			return m
		}
	}
	return nil
}

func (r memberships) Create(_ context.Context, m *model.Membership) error {
	if r.active(m.ConversationID, m.UserID) != nil {
		return storage.ErrDuplicate
	}
	cp := *m
	r.st().memberships = append(r.st().memberships, &cp)
	return nil
}

func (r memberships) GetActive(_ context.Context, conversationID, userID string) (*model.Membership, error) {
	m := r.active(conversationID, userID)
	if m == nil {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r memberships) GetLatest(_ context.Context, conversationID, userID string) (*model.Membership, error) {
	all := r.st().memberships
	for i := len(all) - 1; i >= 0; i-- {
		if m := all[i]; m.ConversationID == conversationID && m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r memberships) ListActive(_ context.Context, conversationID string) ([]model.Membership, error) {
	out := make([]model.Membership, 0, 8)
	for _, m := range r.st().memberships {
		if m.ConversationID == conversationID && m.Active() {
			out = append(out, *m)
		}
	}
	return out, nil
}

// unread считает видимые участнику чужие сообщения после его указателя.
func (r memberships) unread(m *model.Membership) int64 {
	st := r.st()
	seen := m.SeenThrough()
	var n int64
	for _, id := range st.byConv[m.ConversationID] {
		msg := st.messages[id]
		if msg.ID > seen && msg.SenderID != m.UserID && msg.VisibleTo(m.UserID) {
			n++
		}
	}
	return n
}

func (r memberships) Advance(_ context.Context, conversationID, userID string, msgID int64, at time.Time) (*model.Membership, error) {
	if err := r.s.fault("memberships.Advance"); err != nil {
		return nil, err
	}
	m := r.active(conversationID, userID)
	if m == nil {
		return nil, storage.ErrNotFound
	}
	if m.SeenThrough() < msgID {
		m.LastSeenMessageID = lo.ToPtr(msgID)
	}
	m.LastSeenAt = lo.ToPtr(at)
	m.UnreadCount = r.unread(m)
	cp := *m
	return &cp, nil
}

func (r memberships) IncrementUnread(_ context.Context, conversationID, senderID string, msgID int64) error {
	if err := r.s.fault("memberships.IncrementUnread"); err != nil {
		return err
	}
	for _, m := range r.st().memberships {
		if m.ConversationID == conversationID && m.Active() && m.UserID != senderID && m.SeenThrough() < msgID {
			m.UnreadCount++
		}
	}
	return nil
}

func (r memberships) Recount(_ context.Context, conversationID string, userIDs []string) error {
	if err := r.s.fault("memberships.Recount"); err != nil {
		return err
	}
	for _, m := range r.st().memberships {
		if m.ConversationID != conversationID || !m.Active() {
			continue
		}
		if userIDs != nil && !slices.Contains(userIDs, m.UserID) {
			continue
		}
		m.UnreadCount = r.unread(m)
	}
	return nil
}

func (r memberships) Leave(_ context.Context, conversationID, userID string, at time.Time) error {
	m := r.active(conversationID, userID)
	if m == nil {
		return storage.ErrNotFound
	}
	m.LeftAt = lo.ToPtr(at)
	return nil
}

func (r memberships) Kick(_ context.Context, conversationID, userID, by string, at time.Time) error {
	m := r.active(conversationID, userID)
	if m == nil {
		return storage.ErrNotFound
	}
	m.LeftAt = lo.ToPtr(at)
	m.KickedAt = lo.ToPtr(at)
	m.KickedBy = lo.ToPtr(by)
	return nil
}

func (r memberships) SetRole(_ context.Context, conversationID, userID string, role model.Role) error {
	m := r.active(conversationID, userID)
	if m == nil {
		return storage.ErrNotFound
	}
	m.Role = role
	return nil
}

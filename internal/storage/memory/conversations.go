package memory

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type conversations struct{ *tx }

func (r conversations) Create(_ context.Context, c *model.Conversation) error {
	st := r.st()
	if _, ok := st.conversations[c.ID]; ok {
		return storage.ErrDuplicate
	}
	if c.FriendshipID != nil {
		for _, e := range st.conversations {
			if e.FriendshipID != nil && *e.FriendshipID == *c.FriendshipID {
				return storage.ErrDuplicate
			}
		}
	}
	cp := *c
	st.conversations[c.ID] = &cp
	return nil
}

func (r conversations) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	c, ok := r.st().conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetForUpdate: транзакции в памяти и так идут по одной.
func (r conversations) GetForUpdate(ctx context.Context, id string) (*model.Conversation, error) {
	if err := r.s.fault("conversations.GetForUpdate"); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r conversations) GetByFriendship(_ context.Context, friendshipID string) (*model.Conversation, error) {
	for _, c := range r.st().conversations {
		if c.FriendshipID != nil && *c.FriendshipID == friendshipID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r conversations) ApplySend(_ context.Context, conversationID string, msgID int64, at time.Time, delta model.Counters) error {
	if err := r.s.fault("conversations.ApplySend"); err != nil {
		return err
	}
	c, ok := r.st().conversations[conversationID]
	if !ok {
		return storage.ErrNotFound
	}
	c.Counters.Add(delta)
	if c.LastMessageID == nil || *c.LastMessageID < msgID {
		c.LastMessageID = lo.ToPtr(msgID)
		c.LastMessageAt = lo.ToPtr(at)
	}
	return nil
}

func (r conversations) RepointLastMessage(_ context.Context, conversationID string, expected int64, newID *int64, newAt *time.Time) (bool, error) {
	if err := r.s.fault("conversations.RepointLastMessage"); err != nil {
		return false, err
	}
	c, ok := r.st().conversations[conversationID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if c.LastMessageID == nil || *c.LastMessageID != expected {
		return false, nil
	}
	c.LastMessageID = copyPtr(newID)
	c.LastMessageAt = copyPtr(newAt)
	return true, nil
}

func (r conversations) ReplaceStats(_ context.Context, conversationID string, st *model.Stats) error {
	c, ok := r.st().conversations[conversationID]
	if !ok {
		return storage.ErrNotFound
	}
	c.Counters = st.Counters
	c.LastMessageID = copyPtr(st.LastMessageID)
	c.LastMessageAt = copyPtr(st.LastMessageAt)
	return nil
}

func (r conversations) SetMessagePermission(_ context.Context, conversationID string, perm model.MessagePermission) error {
	c, ok := r.st().conversations[conversationID]
	if !ok {
		return storage.ErrNotFound
	}
	c.MessagePermission = perm
	return nil
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package memory

import (
	"context"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type messages struct{ *tx }

func (r messages) Create(_ context.Context, m *model.Message) error {
	if err := r.s.fault("messages.Create"); err != nil {
		return err
	}
	st := r.st()
	if m.ClientMessageID != "" {
		for _, id := range st.byConv[m.ConversationID] {
			e := st.messages[id]
			if e.SenderID == m.SenderID && e.ClientMessageID == m.ClientMessageID {
				return storage.ErrDuplicate
			}
		}
	}
	st.nextMsgID++
	m.ID = st.nextMsgID
	st.messages[m.ID] = m.Clone()
	st.byConv[m.ConversationID] = append(st.byConv[m.ConversationID], m.ID)
	return nil
}

func (r messages) GetByID(_ context.Context, id int64) (*model.Message, error) {
	m, ok := r.st().messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (r messages) GetForUpdate(ctx context.Context, id int64) (*model.Message, error) {
	return r.GetByID(ctx, id)
}

func (r messages) GetByClientID(_ context.Context, conversationID, senderID, clientMessageID string) (*model.Message, error) {
	st := r.st()
	for _, id := range st.byConv[conversationID] {
		m := st.messages[id]
		if m.SenderID == senderID && m.ClientMessageID == clientMessageID {
			return m.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r messages) GetMany(_ context.Context, ids []int64) (map[int64]*model.Message, error) {
	out := make(map[int64]*model.Message, len(ids))
	for _, id := range ids {
		if m, ok := r.st().messages[id]; ok {
			out[id] = m.Clone()
		}
	}
	return out, nil
}

func (r messages) ListVisible(_ context.Context, conversationID, userID string, before int64, limit int) ([]model.Message, error) {
	st := r.st()
	ids := st.byConv[conversationID]
	out := make([]model.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := st.messages[ids[i]]
		if before > 0 && m.ID >= before {
			continue
		}
		if m.VisibleTo(userID) {
			out = append(out, *m.Clone())
		}
	}
	return out, nil
}

func (r messages) latest(conversationID string, keep func(*model.Message) bool) *model.Message {
	st := r.st()
	ids := st.byConv[conversationID]
	for i := len(ids) - 1; i >= 0; i-- {
		if m := st.messages[ids[i]]; keep(m) {
			return m.Clone()
		}
	}
	return nil
}

func (r messages) LatestNotDeleted(_ context.Context, conversationID string, before int64) (*model.Message, error) {
	return r.latest(conversationID, func(m *model.Message) bool {
		return (before == 0 || m.ID < before) && !m.IsDeleted()
	}), nil
}

func (r messages) LatestVisibleFor(_ context.Context, conversationID, userID string) (*model.Message, error) {
	return r.latest(conversationID, func(m *model.Message) bool { return m.VisibleTo(userID) }), nil
}

func (r messages) UpdateContent(_ context.Context, id int64, content string, editedAt time.Time) error {
	m, ok := r.st().messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.Content = content
	m.EditedAt = &editedAt
	return nil
}

func (r messages) Recall(_ context.Context, id int64, at time.Time, clearHides bool) ([]string, error) {
	if err := r.s.fault("messages.Recall"); err != nil {
		return nil, err
	}
	m, ok := r.st().messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m.Content = ""
	m.IsRecalled = true
	m.RecalledAt = &at
	var cleared []string
	if clearHides {
		cleared = m.HiddenFor
		m.HiddenFor = nil
	}
	return cleared, nil
}

func (r messages) Hide(_ context.Context, id int64, userID string) (bool, error) {
	m, ok := r.st().messages[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if slices.Contains(m.HiddenFor, userID) {
		return false, nil
	}
	m.HiddenFor = append(m.HiddenFor, userID)
	return true, nil
}

func (r messages) SoftDelete(_ context.Context, id int64, by string, at time.Time) error {
	if err := r.s.fault("messages.SoftDelete"); err != nil {
		return err
	}
	m, ok := r.st().messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.DeletedAt = &at
	m.DeletedBy = &by
	m.HiddenFor = nil
	return nil
}

func (r messages) Aggregate(_ context.Context, conversationID string) (*model.Stats, error) {
	st := r.st()
	out := &model.Stats{}
	for _, id := range st.byConv[conversationID] {
		m := st.messages[id]
		out.Counters.Add(model.CountersFor(m.Attachments))
		if !m.IsDeleted() {
			out.LastMessageID = lo.ToPtr(m.ID)
			out.LastMessageAt = lo.ToPtr(m.CreatedAt)
		}
	}
	return out, nil
}

type reactions struct{ *tx }

func (r reactions) Toggle(_ context.Context, messageID int64, userID, emoji string, at time.Time) (bool, error) {
	st := r.st()
	list := st.reactions[messageID]
	idx := slices.IndexFunc(list, func(rc model.Reaction) bool {
		return rc.UserID == userID && rc.Emoji == emoji
	})
	if idx >= 0 {
		st.reactions[messageID] = slices.Delete(list, idx, idx+1)
		return false, nil
	}
	st.reactions[messageID] = append(list, model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: at})
	return true, nil
}

func (r reactions) ListByMessage(_ context.Context, messageID int64) ([]model.Reaction, error) {
	return append(make([]model.Reaction, 0, len(r.st().reactions[messageID])), r.st().reactions[messageID]...), nil
}

func (r reactions) ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]model.Reaction, error) {
	out := make(map[int64][]model.Reaction, len(messageIDs))
	for _, id := range messageIDs {
		if rs := r.st().reactions[id]; len(rs) > 0 {
			out[id] = append([]model.Reaction(nil), rs...)
		}
	}
	return out, nil
}

package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type Page struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// GetMessages возвращает до limit видимых userID сообщений старше before
// (самую свежую страницу при before == 0), от старых к новым.
func (s *Service) GetMessages(ctx context.Context, conversationID, userID string, before int64, limit int) (*Page, error) {
	if before < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidID, "invalid cursor")
	}
	switch {
	case limit <= 0:
		limit = s.cfg.PageDefaultLimit
	case limit > s.cfg.PageMaxLimit:
		limit = s.cfg.PageMaxLimit
	}
	if _, err := s.access.CheckRead(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	page := &Page{}
	err := s.store.View(ctx, func(tx storage.Tx) error {
		msgs, err := tx.Messages().ListVisible(ctx, conversationID, userID, before, limit+1)
		if err != nil {
			return err
		}
		if len(msgs) > limit {
			page.HasMore = true
			msgs = msgs[:limit]
		}
		slices.Reverse(msgs)
		page.Messages, err = s.enrich(ctx, tx, msgs)
		return err
	})
	if err != nil {
		return nil, storageErr("GetMessages", err)
	}
	return page, nil
}

type ReadResult struct {
	LastSeenMessageID *int64     `json:"last_seen_message"`
	LastSeenAt        *time.Time `json:"last_seen_at"`
	UnreadCount       int64      `json:"unread_count"`
	// Changed == false, если указатель уже стоял на последнем сообщении.
	Changed bool `json:"-"`
}

// MarkAsRead двигает указатель вызывающего на последнее сообщение беседы.
// Повторный вызов без новых сообщений ничего не пишет и не рассылает.
func (s *Service) MarkAsRead(ctx context.Context, conversationID, userID string) (*ReadResult, error) {
	if _, err := s.access.CheckRead(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	res := &ReadResult{}
	var out MessageRead
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		conv, err := tx.Conversations().GetForUpdate(ctx, conversationID)
		if err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		mb, err := tx.Memberships().GetActive(ctx, conversationID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
		}
		if err != nil {
			return err
		}
		if conv.LastMessageID == nil || mb.SeenThrough() >= *conv.LastMessageID {
			res.LastSeenMessageID, res.LastSeenAt, res.UnreadCount = mb.LastSeenMessageID, mb.LastSeenAt, mb.UnreadCount
			return nil
		}
		updated, err := tx.Memberships().Advance(ctx, conversationID, userID, *conv.LastMessageID, s.clock())
		if err != nil {
			return err
		}
		res.LastSeenMessageID, res.LastSeenAt, res.UnreadCount = updated.LastSeenMessageID, updated.LastSeenAt, updated.UnreadCount
		res.Changed = true

		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		out = MessageRead{
			ConversationID:    conversationID,
			ReadBy:            userID,
			LastSeenMessageID: updated.SeenThrough(),
			Reader:            stateOf(updated),
			Audience:          userIDs(members),
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("MarkAsRead", err)
	}
	if res.Changed {
		s.publish(bus.KindMessageRead, conversationID, out)
	}
	return res, nil
}

type ConversationView struct {
	Conversation      model.Conversation `json:"conversation"`
	Role              model.Role         `json:"role"`
	UnreadCount       int64              `json:"unread_count"`
	LastSeenMessageID *int64             `json:"last_seen_message"`
	LastSeenAt        *time.Time         `json:"last_seen_at"`
	// LastMessage: самое новое сообщение, видимое вызывающему. Личные
	// скрытия учитываются здесь, а не в сохранённом указателе.
	LastMessage *model.Message `json:"last_message"`
	MemberIDs   []string       `json:"member_ids"`
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*ConversationView, error) {
	if _, err := s.access.CheckRead(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	view := &ConversationView{}
	err := s.store.View(ctx, func(tx storage.Tx) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		mb, err := tx.Memberships().GetActive(ctx, conversationID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
		}
		if err != nil {
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		view.Conversation = *conv
		view.Role = mb.Role
		view.UnreadCount = mb.UnreadCount
		view.LastSeenMessageID = mb.LastSeenMessageID
		view.LastSeenAt = mb.LastSeenAt
		view.MemberIDs = userIDs(members)

		var last *model.Message
		if conv.LastMessageID != nil {
			if last, err = tx.Messages().GetByID(ctx, *conv.LastMessageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		if last == nil || !last.VisibleTo(userID) {
			if last, err = tx.Messages().LatestVisibleFor(ctx, conversationID, userID); err != nil {
				return err
			}
		}
		if last != nil {
			enriched, err := s.enrich(ctx, tx, []model.Message{*last})
			if err != nil {
				return err
			}
			view.LastMessage = &enriched[0]
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("GetConversation", err)
	}
	return view, nil
}

// Typing рассылает индикатор набора остальным активным участникам.
func (s *Service) Typing(ctx context.Context, conversationID, userID string) error {
	if _, err := s.access.CheckRead(ctx, conversationID, userID); err != nil {
		return err
	}
	var audience []string
	err := s.store.View(ctx, func(tx storage.Tx) error {
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.UserID != userID {
				audience = append(audience, m.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("Typing", err)
	}
	s.publish(bus.KindTyping, conversationID, Typing{ConversationID: conversationID, UserID: userID, Audience: audience})
	return nil
}

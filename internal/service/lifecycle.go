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

// Result: ответ recall, hide, delete-for-me и admin-delete.
type Result struct {
	Success   bool  `json:"success"`
	MessageID int64 `json:"message_id"`
}

func (s *Service) withinWindow(m *model.Message) bool {
	return s.clock().Sub(m.CreatedAt) <= s.cfg.EditWindow
}

// Edit заменяет текст своего сообщения, пока не истекло окно редактирования.
func (s *Service) Edit(ctx context.Context, messageID int64, userID, rawContent string) (*model.Message, error) {
	content, err := s.checkContent(rawContent, true)
	if err != nil {
		return nil, err
	}
	msg, err := s.loadMessage(ctx, "Edit", messageID, userID)
	if err != nil {
		return nil, err
	}

	var out MessageEdited
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		m, err := tx.Messages().GetForUpdate(ctx, msg.ID)
		if err != nil {
			return notFoundAs(err, apperr.CodeMessageNotFound, "message not found")
		}
		switch {
		case m.IsDeleted():
			return apperr.Conflict(apperr.CodeMessageDeleted, "message was deleted")
		case m.SenderID != userID:
			return apperr.Forbidden(apperr.CodeNotSender, "only the sender can edit a message")
		case m.IsRecalled:
			return apperr.Conflict(apperr.CodeMessageRecalled, "message was recalled")
		case !s.withinWindow(m):
			return apperr.Conflict(apperr.CodeEditTimeLimitExceeded, "edit window has passed")
		}
		editedAt := s.clock()
		if err := tx.Messages().UpdateContent(ctx, m.ID, content, editedAt); err != nil {
			return err
		}
		m.Content, m.EditedAt = content, &editedAt

		conv, err := tx.Conversations().GetByID(ctx, m.ConversationID)
		if err != nil {
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, m.ConversationID)
		if err != nil {
			return err
		}
		enriched, err := s.enrich(ctx, tx, []model.Message{*m})
		if err != nil {
			return err
		}
		out = MessageEdited{
			Message:       enriched[0],
			IsLastMessage: conv.LastMessageID != nil && *conv.LastMessageID == m.ID,
			Audience:      userIDs(members),
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("Edit", err)
	}
	s.publish(bus.KindMessageEdited, msg.ConversationID, out)
	return &out.Message, nil
}

// Recall стирает текст у всех. Необратимо.
func (s *Service) Recall(ctx context.Context, messageID int64, userID string) (*Result, error) {
	msg, err := s.loadMessage(ctx, "Recall", messageID, userID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockConversation(msg.ConversationID)
	defer unlock()

	var out MessageRecalled
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Conversations().GetForUpdate(ctx, msg.ConversationID); err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		m, err := tx.Messages().GetForUpdate(ctx, msg.ID)
		if err != nil {
			return notFoundAs(err, apperr.CodeMessageNotFound, "message not found")
		}
		switch {
		case m.IsDeleted():
			return apperr.Conflict(apperr.CodeMessageDeleted, "message was deleted")
		case m.SenderID != userID:
			return apperr.Forbidden(apperr.CodeNotSender, "only the sender can recall a message")
		case m.IsRecalled:
			return apperr.Conflict(apperr.CodeAlreadyRecalled, "message already recalled")
		case !s.withinWindow(m):
			return apperr.Conflict(apperr.CodeRecallTimeLimitExceeded, "recall window has passed")
		}
		restored, err := tx.Messages().Recall(ctx, m.ID, s.clock(), s.cfg.RecallClearsHides)
		if err != nil {
			return err
		}
		// Снятое скрытие возвращает сообщение в счётчики этих участников.
		if len(restored) > 0 {
			if err := tx.Memberships().Recount(ctx, m.ConversationID, restored); err != nil {
				return err
			}
		}
		conv, err := tx.Conversations().GetByID(ctx, m.ConversationID)
		if err != nil {
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, m.ConversationID)
		if err != nil {
			return err
		}
		out = MessageRecalled{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			IsLastMessage:  conv.LastMessageID != nil && *conv.LastMessageID == m.ID,
			Audience:       userIDs(members),
		}
		for _, mb := range members {
			if slices.Contains(restored, mb.UserID) {
				out.Restored = append(out.Restored, stateOf(&mb))
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("Recall", err)
	}
	s.publish(bus.KindMessageRecalled, msg.ConversationID, out)
	return &Result{Success: true, MessageID: msg.ID}, nil
}

// Hide скрывает видимое сообщение только для userID. Указатель беседы на
// последнее сообщение не трогается, каждый читатель видит свой вариант.
func (s *Service) Hide(ctx context.Context, messageID int64, userID string) (*Result, error) {
	return s.hide(ctx, "Hide", messageID, userID, false)
}

// DeleteForMe: то же скрытие, но только для отправителя и только целого сообщения.
func (s *Service) DeleteForMe(ctx context.Context, messageID int64, userID string) (*Result, error) {
	return s.hide(ctx, "DeleteForMe", messageID, userID, true)
}

func (s *Service) hide(ctx context.Context, op string, messageID int64, userID string, senderOnly bool) (*Result, error) {
	msg, err := s.loadMessage(ctx, op, messageID, userID)
	if err != nil {
		return nil, err
	}

	var out MessageHidden
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Conversations().GetForUpdate(ctx, msg.ConversationID); err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		m, err := tx.Messages().GetForUpdate(ctx, msg.ID)
		if err != nil {
			return notFoundAs(err, apperr.CodeMessageNotFound, "message not found")
		}
		if senderOnly {
			switch {
			case m.SenderID != userID:
				return apperr.Forbidden(apperr.CodeNotSender, "only the sender can delete a message for themselves")
			case m.IsDeleted():
				return apperr.Conflict(apperr.CodeMessageDeleted, "message was deleted")
			case m.IsRecalled:
				return apperr.Conflict(apperr.CodeMessageRecalled, "message was recalled")
			}
		} else if m.IsDeleted() {
			return apperr.NotFound(apperr.CodeMessageNotFound, "message not found")
		}
		added, err := tx.Messages().Hide(ctx, m.ID, userID)
		if err != nil {
			return err
		}
		if !added {
			return apperr.Conflict(apperr.CodeAlreadyHidden, "message already hidden")
		}
		if err := tx.Memberships().Recount(ctx, m.ConversationID, []string{userID}); err != nil {
			return err
		}
		mb, err := tx.Memberships().GetActive(ctx, m.ConversationID, userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
			}
			return err
		}
		last, err := tx.Messages().LatestVisibleFor(ctx, m.ConversationID, userID)
		if err != nil {
			return err
		}
		out = MessageHidden{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			UserID:         userID,
			ForSender:      senderOnly,
			Member:         stateOf(mb),
		}
		if last != nil {
			enriched, err := s.enrich(ctx, tx, []model.Message{*last})
			if err != nil {
				return err
			}
			out.LastVisible = &enriched[0]
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(op, err)
	}
	s.publish(bus.KindMessageHidden, msg.ConversationID, out)
	return &Result{Success: true, MessageID: msg.ID}, nil
}

// AdminDelete удаляет сообщение для всех. Если оно было последним в беседе,
// указатель откатывается к самому новому из оставшихся.
func (s *Service) AdminDelete(ctx context.Context, messageID int64, adminID string) (*Result, error) {
	if messageID <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidID, "invalid message id")
	}
	var (
		perms *model.UserPermissions
		msg   *model.Message
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if perms, err = tx.Users().GetPermissions(ctx, adminID); err != nil {
			return err
		}
		msg, err = tx.Messages().GetByID(ctx, messageID)
		return notFoundAs(err, apperr.CodeMessageNotFound, "message not found")
	})
	if err != nil {
		return nil, storageErr("AdminDelete", err)
	}
	if !perms.CanDeleteAnyMessage() {
		return nil, apperr.Forbidden(apperr.CodeNotPrivileged, "not allowed to delete messages of others")
	}

	unlock := s.lockConversation(msg.ConversationID)
	defer unlock()

	var out MessageDeleted
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Conversations().GetForUpdate(ctx, msg.ConversationID); err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		m, err := tx.Messages().GetForUpdate(ctx, msg.ID)
		if err != nil {
			return notFoundAs(err, apperr.CodeMessageNotFound, "message not found")
		}
		if m.IsDeleted() {
			return apperr.Conflict(apperr.CodeMessageDeleted, "message already deleted")
		}
		now := s.clock()
		if err := tx.Messages().SoftDelete(ctx, m.ID, adminID, now); err != nil {
			return err
		}
		out = MessageDeleted{ConversationID: m.ConversationID, MessageID: m.ID, DeletedBy: adminID}

		conv, err := tx.Conversations().GetByID(ctx, m.ConversationID)
		if err != nil {
			return err
		}
		if conv.LastMessageID != nil && *conv.LastMessageID == m.ID {
			if err := s.repointAfterDelete(ctx, tx, conv, m.ID, &out); err != nil {
				return err
			}
		}
		if err := tx.Memberships().Recount(ctx, m.ConversationID, nil); err != nil {
			return err
		}
		if conv, err = tx.Conversations().GetByID(ctx, m.ConversationID); err != nil {
			return err
		}
		out.LastMessageID, out.LastMessageAt = conv.LastMessageID, conv.LastMessageAt
		members, err := tx.Memberships().ListActive(ctx, m.ConversationID)
		if err != nil {
			return err
		}
		out.Members = memberStates(members)
		return nil
	})
	if err != nil {
		return nil, storageErr("AdminDelete", err)
	}
	s.publish(bus.KindMessageDeleted, msg.ConversationID, out)
	return &Result{Success: true, MessageID: msg.ID}, nil
}

// repointAfterDelete ищет назад от deletedID самое новое не удалённое сообщение
// и переставляет указатель на него (или в NULL). Перестановка условная: если
// отправка уже увела указатель дальше deletedID, побеждает она.
func (s *Service) repointAfterDelete(ctx context.Context, tx storage.Tx, conv *model.Conversation, deletedID int64, out *MessageDeleted) error {
	prev, err := tx.Messages().LatestNotDeleted(ctx, conv.ID, deletedID)
	if err != nil {
		return err
	}
	var (
		newID *int64
		newAt *time.Time
	)
	if prev != nil {
		newID, newAt = &prev.ID, &prev.CreatedAt
	}
	swapped, err := tx.Conversations().RepointLastMessage(ctx, conv.ID, deletedID, newID, newAt)
	if err != nil {
		return err
	}
	out.Repointed = swapped
	if swapped && prev != nil {
		enriched, err := s.enrich(ctx, tx, []model.Message{*prev})
		if err != nil {
			return err
		}
		out.LastMessage = &enriched[0]
	}
	return nil
}

// ToggleReaction ставит или снимает реакцию (сообщение, пользователь, эмодзи)
// и возвращает полный список реакций.
func (s *Service) ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) ([]model.Reaction, error) {
	if err := checkEmoji(emoji); err != nil {
		return nil, err
	}
	msg, err := s.loadMessage(ctx, "ToggleReaction", messageID, userID)
	if err != nil {
		return nil, err
	}
	if !msg.VisibleTo(userID) {
		return nil, apperr.NotFound(apperr.CodeMessageNotFound, "message not found")
	}
	if msg.IsRecalled {
		return nil, apperr.Conflict(apperr.CodeMessageRecalled, "message was recalled")
	}

	out := ReactionUpdated{ConversationID: msg.ConversationID, MessageID: msg.ID, UserID: userID, Emoji: emoji}
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		added, err := tx.Reactions().Toggle(ctx, msg.ID, userID, emoji, s.clock())
		if err != nil {
			return err
		}
		out.Added = added
		if out.Reactions, err = tx.Reactions().ListByMessage(ctx, msg.ID); err != nil {
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, msg.ConversationID)
		if err != nil {
			return err
		}
		out.Audience = userIDs(members)
		return nil
	})
	if err != nil {
		return nil, storageErr("ToggleReaction", err)
	}
	if out.Reactions == nil {
		out.Reactions = []model.Reaction{}
	}
	s.publish(bus.KindReaction, msg.ConversationID, out)
	return out.Reactions, nil
}

package service

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type SendInput struct {
	ConversationID  string             `json:"conversation_id" validate:"required"`
	SenderID        string             `json:"-" validate:"required"`
	Content         string             `json:"content"`
	ClientMessageID string             `json:"client_message_id" validate:"max=128"`
	Type            model.MessageType  `json:"type" validate:"omitempty,oneof=text attachment"`
	ReplyToID       *int64             `json:"reply_to_id" validate:"omitempty,gt=0"`
	Attachments     []model.Attachment `json:"attachments"`
}

type SendResult struct {
	Message model.Message `json:"message"`
	// Duplicate: clientMessageId совпал с прошлой отправкой, ничего не записано и не разослано.
	Duplicate bool `json:"duplicate"`
}

var errDuplicateSend = errors.New("duplicate client message id")

// Send создаёт сообщение. Вставка, счётчики и указатель беседы, состояние
// прочтения отправителя и unread остальных коммитятся вместе.
func (s *Service) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	msg, err := s.prepareSend(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.CheckWrite(ctx, in.ConversationID, in.SenderID); err != nil {
		return nil, err
	}
	if msg.ClientMessageID != "" {
		if existing, err := s.findByClientID(ctx, msg); err != nil || existing != nil {
			if err != nil {
				return nil, err
			}
			return &SendResult{Message: *existing, Duplicate: true}, nil
		}
	}

	unlock := s.lockConversation(msg.ConversationID)
	defer unlock()

	var out MessageSent
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		// Строка беседы блокируется первой: отправки, чтения и пересчёты
		// одной беседы выстраиваются на ней.
		if _, err := tx.Conversations().GetForUpdate(ctx, msg.ConversationID); err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		if msg.ReplyToID != nil {
			target, err := tx.Messages().GetByID(ctx, *msg.ReplyToID)
			if errors.Is(err, storage.ErrNotFound) || (err == nil && (target.ConversationID != msg.ConversationID || target.IsDeleted())) {
				return apperr.Validation(apperr.CodeReplyTargetInvalid, "reply target not found in this conversation")
			}
			if err != nil {
				return err
			}
		}
		if err := tx.Messages().Create(ctx, msg); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return errDuplicateSend
			}
			return err
		}
		err := tx.Conversations().ApplySend(ctx, msg.ConversationID, msg.ID, msg.CreatedAt, model.CountersFor(msg.Attachments))
		if err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		if _, err := tx.Memberships().Advance(ctx, msg.ConversationID, msg.SenderID, msg.ID, msg.CreatedAt); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
			}
			return err
		}
		if err := tx.Memberships().IncrementUnread(ctx, msg.ConversationID, msg.SenderID, msg.ID); err != nil {
			return err
		}
		conv, err := tx.Conversations().GetByID(ctx, msg.ConversationID)
		if err != nil {
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, msg.ConversationID)
		if err != nil {
			return err
		}
		enriched, err := s.enrich(ctx, tx, []model.Message{*msg})
		if err != nil {
			return err
		}
		out = MessageSent{
			Message:       enriched[0],
			LastMessageID: conv.LastMessageID,
			LastMessageAt: conv.LastMessageAt,
			Members:       memberStates(members),
		}
		return nil
	})
	if errors.Is(err, errDuplicateSend) {
		existing, err := s.findByClientID(ctx, msg)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperr.Transient(errDuplicateSend)
		}
		return &SendResult{Message: *existing, Duplicate: true}, nil
	}
	if err != nil {
		return nil, storageErr("Send", err)
	}

	logger.Debugf("service.Send: conversation=%s message=%d members=%d", msg.ConversationID, msg.ID, len(out.Members))
	s.publish(bus.KindMessageSent, msg.ConversationID, out)
	return &SendResult{Message: out.Message}, nil
}

func (s *Service) prepareSend(in SendInput) (*model.Message, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeText
		if len(in.Attachments) > 0 {
			msgType = model.MessageTypeAttachment
		}
	}
	content, err := s.checkContent(in.Content, msgType == model.MessageTypeText)
	if err != nil {
		return nil, err
	}
	if msgType == model.MessageTypeAttachment && len(in.Attachments) == 0 {
		return nil, apperr.Validation(apperr.CodeInvalidAttachment, "attachment message without attachments")
	}
	if err := s.checkAttachments(in.Attachments); err != nil {
		return nil, err
	}
	atts := in.Attachments
	if atts == nil {
		atts = []model.Attachment{}
	}
	return &model.Message{
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		ClientMessageID: in.ClientMessageID,
		Type:            msgType,
		Content:         content,
		Attachments:     atts,
		ReplyToID:       in.ReplyToID,
		CreatedAt:       s.clock(),
	}, nil
}

func (s *Service) findByClientID(ctx context.Context, msg *model.Message) (*model.Message, error) {
	var found *model.Message
	err := s.store.View(ctx, func(tx storage.Tx) error {
		m, err := tx.Messages().GetByClientID(ctx, msg.ConversationID, msg.SenderID, msg.ClientMessageID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		enriched, err := s.enrich(ctx, tx, []model.Message{*m})
		if err != nil {
			return err
		}
		found = &enriched[0]
		return nil
	})
	if err != nil {
		return nil, storageErr("Send.findByClientID", err)
	}
	return found, nil
}

// enrich добавляет превью ответов и реакции, скрывает текст отозванных.
func (s *Service) enrich(ctx context.Context, tx storage.Tx, msgs []model.Message) ([]model.Message, error) {
	if len(msgs) == 0 {
		return []model.Message{}, nil
	}
	replyIDs := lo.Uniq(lo.FilterMap(msgs, func(m model.Message, _ int) (int64, bool) {
		if m.ReplyToID == nil {
			return 0, false
		}
		return *m.ReplyToID, true
	}))
	targets, err := tx.Messages().GetMany(ctx, replyIDs)
	if err != nil {
		return nil, err
	}
	reactions, err := tx.Reactions().ListByMessages(ctx, lo.Map(msgs, func(m model.Message, _ int) int64 { return m.ID }))
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ReplyToID != nil {
			if t, ok := targets[*m.ReplyToID]; ok {
				m.ReplyTo = t.Preview()
			}
		}
		m.Reactions = reactions[m.ID]
		out = append(out, m.Redacted())
	}
	return out, nil
}

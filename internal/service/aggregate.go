package service

import (
	"context"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// Rebuild пересчитывает счётчики и указатель на последнее сообщение по всей
// истории, затем unread каждого участника. Путь восстановления после расхождений.
func (s *Service) Rebuild(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidID, "conversation id is required")
	}
	unlock := s.lockConversation(conversationID)
	defer unlock()

	var out ConversationRebuilt
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Conversations().GetForUpdate(ctx, conversationID); err != nil {
			return notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
		}
		st, err := tx.Messages().Aggregate(ctx, conversationID)
		if err != nil {
			return err
		}
		if err := tx.Conversations().ReplaceStats(ctx, conversationID, st); err != nil {
			return err
		}
		if err := tx.Memberships().Recount(ctx, conversationID, nil); err != nil {
			return err
		}
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		out = ConversationRebuilt{Conversation: *conv, Members: memberStates(members)}
		return nil
	})
	if err != nil {
		return nil, storageErr("Rebuild", err)
	}
	logger.Infof("service.Rebuild: conversation=%s total=%d", conversationID, out.Conversation.Counters.TotalMessages)
	s.publish(bus.KindConversation, conversationID, out)
	return &out.Conversation, nil
}

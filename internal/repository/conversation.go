package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

const conversationColumns = `id::text, type, friendship_id::text, name, created_by::text, last_message_id, last_message_at,
	total_messages, shared_images, shared_videos, shared_audios, shared_files, shared_links,
	message_permission, join_mode, created_at`

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := row.Scan(&c.ID, &c.Type, &c.FriendshipID, &c.Name, &c.CreatedBy, &c.LastMessageID, &c.LastMessageAt,
		&c.Counters.TotalMessages, &c.Counters.SharedImages, &c.Counters.SharedVideos, &c.Counters.SharedAudios,
		&c.Counters.SharedFiles, &c.Counters.SharedLinks, &c.MessagePermission, &c.JoinMode, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conversation.Create", time.Now())()
	_, err := r.db.Exec(ctx,
		`INSERT INTO conversations (id, type, friendship_id, name, created_by, message_permission, join_mode, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Type, c.FriendshipID, c.Name, c.CreatedBy, c.MessagePermission, c.JoinMode, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("conversationRepo.Create: %w", err)
	}
	return nil
}

func (r *ConversationRepository) get(ctx context.Context, op, where string, arg any) (*model.Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.%s: %w", op, err)
	}
	return c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.GetByID", time.Now())()
	return r.get(ctx, "GetByID", "id = $1", id)
}

// GetForUpdate берёт FOR UPDATE на строку беседы. Следующие операторы
// транзакции видят всё, что закоммитили отправки, стоявшие перед ней.
func (r *ConversationRepository) GetForUpdate(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.GetForUpdate", time.Now())()
	return r.get(ctx, "GetForUpdate", "id = $1 FOR UPDATE", id)
}

func (r *ConversationRepository) GetByFriendship(ctx context.Context, friendshipID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.GetByFriendship", time.Now())()
	return r.get(ctx, "GetByFriendship", "friendship_id = $1", friendshipID)
}

// ApplySend прибавляет счётчики и двигает last_message только вперёд.
// UPDATE берёт блокировку строки беседы, поэтому параллельные отправки в одну беседу
// упорядочиваются на ней, а не на строках участников.
func (r *ConversationRepository) ApplySend(ctx context.Context, conversationID string, msgID int64, at time.Time, delta model.Counters) error {
	defer logger.DeferLogDuration("conversation.ApplySend", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE conversations SET
			total_messages  = total_messages + $3,
			shared_images   = shared_images + $4,
			shared_videos   = shared_videos + $5,
			shared_audios   = shared_audios + $6,
			shared_files    = shared_files + $7,
			shared_links    = shared_links + $8,
			last_message_at = CASE WHEN last_message_id IS NULL OR last_message_id < $2 THEN $9 ELSE last_message_at END,
			last_message_id = GREATEST(COALESCE(last_message_id, 0), $2)
		 WHERE id = $1`,
		conversationID, msgID, delta.TotalMessages, delta.SharedImages, delta.SharedVideos,
		delta.SharedAudios, delta.SharedFiles, delta.SharedLinks, at,
	)
	if err != nil {
		return fmt.Errorf("conversationRepo.ApplySend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) RepointLastMessage(ctx context.Context, conversationID string, expected int64, newID *int64, newAt *time.Time) (bool, error) {
	defer logger.DeferLogDuration("conversation.RepointLastMessage", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE conversations SET last_message_id = $3, last_message_at = $4
		 WHERE id = $1 AND last_message_id = $2`,
		conversationID, expected, newID, newAt,
	)
	if err != nil {
		return false, fmt.Errorf("conversationRepo.RepointLastMessage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConversationRepository) ReplaceStats(ctx context.Context, conversationID string, st *model.Stats) error {
	defer logger.DeferLogDuration("conversation.ReplaceStats", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE conversations SET
			total_messages = $2, shared_images = $3, shared_videos = $4, shared_audios = $5,
			shared_files = $6, shared_links = $7, last_message_id = $8, last_message_at = $9
		 WHERE id = $1`,
		conversationID, st.Counters.TotalMessages, st.Counters.SharedImages, st.Counters.SharedVideos,
		st.Counters.SharedAudios, st.Counters.SharedFiles, st.Counters.SharedLinks, st.LastMessageID, st.LastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("conversationRepo.ReplaceStats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) SetMessagePermission(ctx context.Context, conversationID string, perm model.MessagePermission) error {
	defer logger.DeferLogDuration("conversation.SetMessagePermission", time.Now())()
	tag, err := r.db.Exec(ctx, `UPDATE conversations SET message_permission = $2 WHERE id = $1`, conversationID, perm)
	if err != nil {
		return fmt.Errorf("conversationRepo.SetMessagePermission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

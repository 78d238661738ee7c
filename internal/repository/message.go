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

const messageColumns = `id, conversation_id::text, sender_id::text, COALESCE(client_message_id, ''), type, content,
	attachments, reply_to_id, edited_at, is_recalled, recalled_at, deleted_at, deleted_by::text, hidden_for, created_at`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row rowScanner) (*model.Message, error) {
	m := &model.Message{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientMessageID, &m.Type, &m.Content,
		&m.Attachments, &m.ReplyToID, &m.EditedAt, &m.IsRecalled, &m.RecalledAt, &m.DeletedAt, &m.DeletedBy,
		&m.HiddenFor, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) one(ctx context.Context, op, sql string, args ...any) (*model.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.%s: %w", op, err)
	}
	return m, nil
}

func (r *MessageRepository) list(ctx context.Context, op, sql string, limit int, args ...any) ([]model.Message, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.%s query: %w", op, err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.%s scan: %w", op, err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.%s rows: %w", op, err)
	}
	return messages, nil
}

// Create inserts the message and sets m.ID. The partial unique index on
// (conversation_id, sender_id, client_message_id) turns a retried send into
// ErrDuplicate without aborting the surrounding transaction.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if m.Attachments == nil {
		m.Attachments = []model.Attachment{}
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_id, client_message_id, type, content, attachments, reply_to_id, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		 ON CONFLICT (conversation_id, sender_id, client_message_id) WHERE client_message_id IS NOT NULL DO NOTHING
		 RETURNING id`,
		m.ConversationID, m.SenderID, m.ClientMessageID, m.Type, m.Content, m.Attachments, m.ReplyToID, m.CreatedAt,
	).Scan(&m.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	return r.one(ctx, "GetByID", `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
}

func (r *MessageRepository) GetForUpdate(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetForUpdate", time.Now())()
	return r.one(ctx, "GetForUpdate", `SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, id)
}

func (r *MessageRepository) GetByClientID(ctx context.Context, conversationID, senderID, clientMessageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByClientID", time.Now())()
	return r.one(ctx, "GetByClientID",
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND sender_id = $2 AND client_message_id = $3`,
		conversationID, senderID, clientMessageID)
}

func (r *MessageRepository) GetMany(ctx context.Context, ids []int64) (map[int64]*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetMany", time.Now())()
	out := make(map[int64]*model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	msgs, err := r.list(ctx, "GetMany", `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, len(ids), ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		out[msgs[i].ID] = &msgs[i]
	}
	return out, nil
}

func (r *MessageRepository) ListVisible(ctx context.Context, conversationID, userID string, before int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListVisible", time.Now())()
	return r.list(ctx, "ListVisible",
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1
		   AND deleted_at IS NULL
		   AND NOT ($2::text = ANY(hidden_for))
		   AND ($3::bigint = 0 OR id < $3)
		 ORDER BY id DESC
		 LIMIT $4`,
		limit, conversationID, userID, before, limit)
}

func (r *MessageRepository) LatestNotDeleted(ctx context.Context, conversationID string, before int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.LatestNotDeleted", time.Now())()
	m, err := r.one(ctx, "LatestNotDeleted",
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND deleted_at IS NULL AND ($2::bigint = 0 OR id < $2)
		 ORDER BY id DESC
		 LIMIT 1`, conversationID, before)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) LatestVisibleFor(ctx context.Context, conversationID, userID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.LatestVisibleFor", time.Now())()
	m, err := r.one(ctx, "LatestVisibleFor",
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND deleted_at IS NULL AND NOT ($2::text = ANY(hidden_for))
		 ORDER BY id DESC
		 LIMIT 1`, conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// UpdateContent edits a message's content and sets edited_at.
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3`,
		content, editedAt, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *MessageRepository) Recall(ctx context.Context, id int64, at time.Time, clearHides bool) ([]string, error) {
	defer logger.DeferLogDuration("msg.Recall", time.Now())()
	var previous []string
	err := r.db.QueryRow(ctx,
		`WITH old AS (SELECT hidden_for FROM messages WHERE id = $1 FOR UPDATE)
		 UPDATE messages m
		 SET content = '', is_recalled = true, recalled_at = $2,
		     hidden_for = CASE WHEN $3::boolean THEN '{}'::text[] ELSE m.hidden_for END
		 FROM old
		 WHERE m.id = $1
		 RETURNING old.hidden_for`,
		id, at, clearHides,
	).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Recall: %w", err)
	}
	if !clearHides {
		return nil, nil
	}
	return previous, nil
}

func (r *MessageRepository) Hide(ctx context.Context, id int64, userID string) (bool, error) {
	defer logger.DeferLogDuration("msg.Hide", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET hidden_for = array_append(hidden_for, $2::text)
		 WHERE id = $1 AND NOT ($2::text = ANY(hidden_for))`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("msgRepo.Hide: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("msgRepo.Hide exists: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// SoftDelete marks a message deleted for everyone; per-user hides no longer matter.
func (r *MessageRepository) SoftDelete(ctx context.Context, id int64, by string, at time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET deleted_at = $2, deleted_by = $3, hidden_for = '{}' WHERE id = $1`,
		id, at, by,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Aggregate recomputes counters over every message ever sent and the newest
// message that is not globally deleted.
func (r *MessageRepository) Aggregate(ctx context.Context, conversationID string) (*model.Stats, error) {
	defer logger.DeferLogDuration("msg.Aggregate", time.Now())()
	st := &model.Stats{}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID,
	).Scan(&st.Counters.TotalMessages)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Aggregate total: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT a->>'media_type', COUNT(*)
		 FROM messages m
		 CROSS JOIN LATERAL jsonb_array_elements(m.attachments) AS a
		 WHERE m.conversation_id = $1
		 GROUP BY 1`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Aggregate media query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			mediaType string
			n         int64
		)
		if err := rows.Scan(&mediaType, &n); err != nil {
			return nil, fmt.Errorf("msgRepo.Aggregate media scan: %w", err)
		}
		st.Counters.AddMedia(model.MediaType(mediaType), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Aggregate media rows: %w", err)
	}

	last, err := r.LatestNotDeleted(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	if last != nil {
		st.LastMessageID = &last.ID
		st.LastMessageAt = &last.CreatedAt
	}
	return st, nil
}

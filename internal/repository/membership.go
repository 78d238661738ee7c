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

const membershipColumns = `id::text, conversation_id::text, user_id::text, role, unread_count, last_seen_message_id,
	last_seen_at, joined_at, left_at, kicked_by::text, kicked_at`

// unreadSubquery считает сообщения после указателя, видимые участнику и не от него.
// Ожидает алиас mb для строки memberships и выражение указателя в %s.
const unreadSubquery = `(SELECT COUNT(*) FROM messages m
	WHERE m.conversation_id = mb.conversation_id
	  AND m.id > %s
	  AND m.sender_id <> mb.user_id
	  AND m.deleted_at IS NULL
	  AND NOT (mb.user_id::text = ANY(m.hidden_for)))`

type MembershipRepository struct {
	db DBTX
}

func NewMembershipRepository(db DBTX) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func scanMembership(row rowScanner) (*model.Membership, error) {
	m := &model.Membership{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.UnreadCount, &m.LastSeenMessageID,
		&m.LastSeenAt, &m.JoinedAt, &m.LeftAt, &m.KickedBy, &m.KickedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MembershipRepository) Create(ctx context.Context, m *model.Membership) error {
	defer logger.DeferLogDuration("membership.Create", time.Now())()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO memberships (id, conversation_id, user_id, role, unread_count, last_seen_message_id, last_seen_at, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (conversation_id, user_id) WHERE left_at IS NULL DO NOTHING`,
		m.ID, m.ConversationID, m.UserID, m.Role, m.UnreadCount, m.LastSeenMessageID, m.LastSeenAt, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("membershipRepo.Create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

func (r *MembershipRepository) one(ctx context.Context, op, sql string, args ...any) (*model.Membership, error) {
	m, err := scanMembership(r.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.%s: %w", op, err)
	}
	return m, nil
}

func (r *MembershipRepository) GetActive(ctx context.Context, conversationID, userID string) (*model.Membership, error) {
	defer logger.DeferLogDuration("membership.GetActive", time.Now())()
	return r.one(ctx, "GetActive",
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`,
		conversationID, userID)
}

func (r *MembershipRepository) GetLatest(ctx context.Context, conversationID, userID string) (*model.Membership, error) {
	defer logger.DeferLogDuration("membership.GetLatest", time.Now())()
	return r.one(ctx, "GetLatest",
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE conversation_id = $1 AND user_id = $2
		 ORDER BY (left_at IS NULL) DESC, joined_at DESC
		 LIMIT 1`,
		conversationID, userID)
}

func (r *MembershipRepository) ListActive(ctx context.Context, conversationID string) ([]model.Membership, error) {
	defer logger.DeferLogDuration("membership.ListActive", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE conversation_id = $1 AND left_at IS NULL
		 ORDER BY joined_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.ListActive query: %w", err)
	}
	defer rows.Close()

	members := make([]model.Membership, 0, 8)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("membershipRepo.ListActive scan: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("membershipRepo.ListActive rows: %w", err)
	}
	return members, nil
}

func (r *MembershipRepository) Advance(ctx context.Context, conversationID, userID string, msgID int64, at time.Time) (*model.Membership, error) {
	defer logger.DeferLogDuration("membership.Advance", time.Now())()
	pointer := `GREATEST(COALESCE(mb.last_seen_message_id, 0), $3::bigint)`
	return r.one(ctx, "Advance",
		`UPDATE memberships mb SET
			last_seen_message_id = `+pointer+`,
			last_seen_at = $4,
			unread_count = `+fmt.Sprintf(unreadSubquery, pointer)+`
		 WHERE mb.conversation_id = $1 AND mb.user_id = $2 AND mb.left_at IS NULL
		 RETURNING `+membershipColumns,
		conversationID, userID, msgID, at)
}

func (r *MembershipRepository) IncrementUnread(ctx context.Context, conversationID, senderID string, msgID int64) error {
	defer logger.DeferLogDuration("membership.IncrementUnread", time.Now())()
	_, err := r.db.Exec(ctx,
		`UPDATE memberships SET unread_count = unread_count + 1
		 WHERE conversation_id = $1 AND left_at IS NULL AND user_id <> $2
		   AND COALESCE(last_seen_message_id, 0) < $3`,
		conversationID, senderID, msgID,
	)
	if err != nil {
		return fmt.Errorf("membershipRepo.IncrementUnread: %w", err)
	}
	return nil
}

// Recount пересчитывает unread от текущего указателя; nil userIDs: все активные участники.
func (r *MembershipRepository) Recount(ctx context.Context, conversationID string, userIDs []string) error {
	defer logger.DeferLogDuration("membership.Recount", time.Now())()
	_, err := r.db.Exec(ctx,
		`UPDATE memberships mb SET unread_count = `+fmt.Sprintf(unreadSubquery, `COALESCE(mb.last_seen_message_id, 0)`)+`
		 WHERE mb.conversation_id = $1 AND mb.left_at IS NULL
		   AND ($2::text[] IS NULL OR mb.user_id::text = ANY($2::text[]))`,
		conversationID, userIDs,
	)
	if err != nil {
		return fmt.Errorf("membershipRepo.Recount: %w", err)
	}
	return nil
}

func (r *MembershipRepository) Leave(ctx context.Context, conversationID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("membership.Leave", time.Now())()
	return r.exec(ctx, "Leave",
		`UPDATE memberships SET left_at = $3 WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`,
		conversationID, userID, at)
}

func (r *MembershipRepository) Kick(ctx context.Context, conversationID, userID, by string, at time.Time) error {
	defer logger.DeferLogDuration("membership.Kick", time.Now())()
	return r.exec(ctx, "Kick",
		`UPDATE memberships SET left_at = $4, kicked_at = $4, kicked_by = $3
		 WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`,
		conversationID, userID, by, at)
}

func (r *MembershipRepository) SetRole(ctx context.Context, conversationID, userID string, role model.Role) error {
	defer logger.DeferLogDuration("membership.SetRole", time.Now())()
	return r.exec(ctx, "SetRole",
		`UPDATE memberships SET role = $3 WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`,
		conversationID, userID, role)
}

func (r *MembershipRepository) exec(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("membershipRepo.%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

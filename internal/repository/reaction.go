package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

type ReactionRepository struct {
	db DBTX
}

func NewReactionRepository(db DBTX) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// Toggle удаляет реакцию, если она уже есть, иначе добавляет. Возвращает true при добавлении.
func (r *ReactionRepository) Toggle(ctx context.Context, messageID int64, userID, emoji string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()
	var added bool
	err := r.db.QueryRow(ctx,
		`WITH removed AS (
			DELETE FROM message_reactions
			WHERE message_id = $1::bigint AND user_id = $2::uuid AND emoji = $3::text
			RETURNING 1
		), inserted AS (
			INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
			SELECT $1::bigint, $2::uuid, $3::text, $4::timestamptz
			WHERE NOT EXISTS (SELECT 1 FROM removed)
			ON CONFLICT DO NOTHING
			RETURNING 1
		)
		SELECT EXISTS (SELECT 1 FROM inserted)`,
		messageID, userID, emoji, at,
	).Scan(&added)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Toggle: %w", err)
	}
	return added, nil
}

func (r *ReactionRepository) ListByMessage(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByMessage", time.Now())()
	grouped, err := r.ListByMessages(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	if out := grouped[messageID]; out != nil {
		return out, nil
	}
	return []model.Reaction{}, nil
}

func (r *ReactionRepository) ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByMessages", time.Now())()
	out := make(map[int64][]model.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT message_id, user_id::text, emoji, created_at
		 FROM message_reactions
		 WHERE message_id = ANY($1)
		 ORDER BY created_at, user_id`,
		messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessages query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByMessages scan: %w", err)
		}
		out[rc.MessageID] = append(out[rc.MessageID], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessages rows: %w", err)
	}
	return out, nil
}

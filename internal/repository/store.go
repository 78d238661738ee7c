package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/storage"
)

// DBTX реализуют *pgxpool.Pool и pgx.Tx: репозитории выполняют одни и те же
// запросы в транзакции и вне её.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store: storage.Store поверх PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(newQueries(tx))
	})
}

func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return fn(newQueries(s.pool))
}

type queries struct {
	msgs    *MessageRepository
	reacts  *ReactionRepository
	convs   *ConversationRepository
	members *MembershipRepository
	friends *FriendshipRepository
	users   *UserRepository
}

func newQueries(db DBTX) *queries {
	return &queries{
		msgs:    NewMessageRepository(db),
		reacts:  NewReactionRepository(db),
		convs:   NewConversationRepository(db),
		members: NewMembershipRepository(db),
		friends: NewFriendshipRepository(db),
		users:   NewUserRepository(db),
	}
}

func (q *queries) Messages() storage.MessageStore           { return q.msgs }
func (q *queries) Reactions() storage.ReactionStore         { return q.reacts }
func (q *queries) Conversations() storage.ConversationStore { return q.convs }
func (q *queries) Memberships() storage.MembershipStore     { return q.members }
func (q *queries) Friendships() storage.FriendshipStore     { return q.friends }
func (q *queries) Users() storage.UserStore                 { return q.users }

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chatcore/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Store: хранилище ядра чата.
// Реализации: repository.Store (PostgreSQL), memory.Store (тесты и режим -memory).
type Store interface {
	// InTx выполняет fn атомарно; любая ошибка откатывает все записи.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// View выполняет fn без транзакции.
	View(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	Messages() MessageStore
	Reactions() ReactionStore
	Conversations() ConversationStore
	Memberships() MembershipStore
	Friendships() FriendshipStore
	Users() UserStore
}

type MessageStore interface {
	// Create присваивает m.ID. Повтор (беседа, отправитель, client id) даёт ErrDuplicate.
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	// GetForUpdate блокирует строку до конца транзакции.
	GetForUpdate(ctx context.Context, id int64) (*model.Message, error)
	GetByClientID(ctx context.Context, conversationID, senderID, clientMessageID string) (*model.Message, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*model.Message, error)
	// ListVisible возвращает видимые userID сообщения от новых к старым,
	// с id < before при before > 0.
	ListVisible(ctx context.Context, conversationID, userID string, before int64, limit int) ([]model.Message, error)
	// LatestNotDeleted возвращает самое новое не удалённое глобально сообщение
	// с id < before (любое при before == 0) или nil.
	LatestNotDeleted(ctx context.Context, conversationID string, before int64) (*model.Message, error)
	// LatestVisibleFor возвращает самое новое видимое userID сообщение или nil.
	LatestVisibleFor(ctx context.Context, conversationID, userID string) (*model.Message, error)
	UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error
	// Recall стирает текст и помечает сообщение отозванным. С clearHides ещё
	// очищает hidden_for и возвращает тех, кто оттуда убран.
	Recall(ctx context.Context, id int64, at time.Time, clearHides bool) ([]string, error)
	// Hide добавляет userID в hidden_for; false, если он там уже был.
	Hide(ctx context.Context, id int64, userID string) (bool, error)
	SoftDelete(ctx context.Context, id int64, by string, at time.Time) error
	Aggregate(ctx context.Context, conversationID string) (*model.Stats, error)
}

type ReactionStore interface {
	// Toggle добавляет (сообщение, пользователь, эмодзи) или удаляет, если уже есть.
	Toggle(ctx context.Context, messageID int64, userID, emoji string, at time.Time) (bool, error)
	ListByMessage(ctx context.Context, messageID int64) ([]model.Reaction, error)
	ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]model.Reaction, error)
}

type ConversationStore interface {
	Create(ctx context.Context, c *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	// GetForUpdate блокирует строку беседы до конца транзакции. Все транзакции,
	// которые двигают указатели прочтения, пересчитывают unread или создают
	// участников, берут её первой, поэтому выстраиваются за отправкой.
	GetForUpdate(ctx context.Context, id string) (*model.Conversation, error)
	GetByFriendship(ctx context.Context, friendshipID string) (*model.Conversation, error)
	// ApplySend прибавляет delta к счётчикам и ставит указатель на msgID,
	// если он не указывает на более новое сообщение.
	ApplySend(ctx context.Context, conversationID string, msgID int64, at time.Time, delta model.Counters) error
	// RepointLastMessage меняет указатель, только пока он равен expected.
	RepointLastMessage(ctx context.Context, conversationID string, expected int64, newID *int64, newAt *time.Time) (bool, error)
	ReplaceStats(ctx context.Context, conversationID string, st *model.Stats) error
	SetMessagePermission(ctx context.Context, conversationID string, perm model.MessagePermission) error
}

type MembershipStore interface {
	// Create возвращает ErrDuplicate, если активное участие уже есть.
	Create(ctx context.Context, m *model.Membership) error
	GetActive(ctx context.Context, conversationID, userID string) (*model.Membership, error)
	// GetLatest возвращает последнее участие, активное или нет.
	GetLatest(ctx context.Context, conversationID, userID string) (*model.Membership, error)
	ListActive(ctx context.Context, conversationID string) ([]model.Membership, error)
	// Advance двигает last_seen вперёд до msgID (никогда назад), ставит
	// last_seen_at и пересчитывает unread от нового указателя.
	Advance(ctx context.Context, conversationID, userID string, msgID int64, at time.Time) (*model.Membership, error)
	// IncrementUnread прибавляет единицу всем активным участникам, кроме senderID,
	// чей указатель позади msgID.
	IncrementUnread(ctx context.Context, conversationID, senderID string, msgID int64) error
	// Recount пересчитывает unread для userIDs, при nil для всех активных.
	Recount(ctx context.Context, conversationID string, userIDs []string) error
	Leave(ctx context.Context, conversationID, userID string, at time.Time) error
	Kick(ctx context.Context, conversationID, userID, by string, at time.Time) error
	SetRole(ctx context.Context, conversationID, userID string, role model.Role) error
}

type FriendshipStore interface {
	GetByID(ctx context.Context, id string) (*model.Friendship, error)
}

type UserStore interface {
	// ResolvePublicID переводит идентификатор от auth-сервиса во внутренний id.
	ResolvePublicID(ctx context.Context, publicID string) (string, error)
	GetPermissions(ctx context.Context, userID string) (*model.UserPermissions, error)
}

package model

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// CanModerate: владелец или админ.
func (r Role) CanModerate() bool { return r == RoleOwner || r == RoleAdmin }

// Rank упорядочивает роли для исключения: owner > admin > member.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// Membership: одно участие пользователя в беседе. Повторный вход создаёт новую
// строку; у пары не больше одной строки с LeftAt == nil.
type Membership struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	UserID            string     `json:"user_id"`
	Role              Role       `json:"role"`
	UnreadCount       int64      `json:"unread_count"`
	LastSeenMessageID *int64     `json:"last_seen_message_id"`
	LastSeenAt        *time.Time `json:"last_seen_at"`
	JoinedAt          time.Time  `json:"joined_at"`
	LeftAt            *time.Time `json:"left_at,omitempty"`
	KickedBy          *string    `json:"kicked_by,omitempty"`
	KickedAt          *time.Time `json:"kicked_at,omitempty"`
}

func (m *Membership) Active() bool { return m.LeftAt == nil }

func (m *Membership) Kicked() bool { return m.KickedAt != nil }

// SeenThrough возвращает id последнего прочитанного, 0 если ничего не прочитано.
func (m *Membership) SeenThrough() int64 {
	if m.LastSeenMessageID == nil {
		return 0
	}
	return *m.LastSeenMessageID
}

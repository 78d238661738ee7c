package service

import (
	"time"

	"github.com/chatcore/internal/model"
)

// MemberState: состояние прочтения одного участника. Emitter отдаёт его
// только этому участнику.
type MemberState struct {
	UserID            string `json:"user_id"`
	UnreadCount       int64  `json:"unread_count"`
	LastSeenMessageID *int64 `json:"last_seen_message_id"`
}

// MessageSent публикуется после коммита отправки. В Members все активные
// участники, включая отправителя, со счётчиками на момент коммита.
type MessageSent struct {
	Message       model.Message `json:"message"`
	LastMessageID *int64        `json:"last_message_id"`
	LastMessageAt *time.Time    `json:"last_message_at"`
	Members       []MemberState `json:"members"`
}

type MessageEdited struct {
	Message       model.Message `json:"message"`
	IsLastMessage bool          `json:"is_last_message"`
	Audience      []string      `json:"audience"`
}

type MessageRecalled struct {
	ConversationID string `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	IsLastMessage  bool   `json:"is_last_message"`
	// Restored: участники, у которых отзыв снял скрытие; их счётчики изменились.
	Restored []MemberState `json:"restored,omitempty"`
	Audience []string      `json:"audience"`
}

// MessageHidden уходит только скрывшему.
type MessageHidden struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      int64          `json:"message_id"`
	UserID         string         `json:"user_id"`
	ForSender      bool           `json:"for_sender"`
	Member         MemberState    `json:"member"`
	LastVisible    *model.Message `json:"last_visible,omitempty"`
}

type MessageDeleted struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      int64          `json:"message_id"`
	DeletedBy      string         `json:"deleted_by"`
	Repointed      bool           `json:"repointed"`
	LastMessage    *model.Message `json:"last_message,omitempty"`
	LastMessageID  *int64         `json:"last_message_id"`
	LastMessageAt  *time.Time     `json:"last_message_at"`
	Members        []MemberState  `json:"members"`
}

type MessageRead struct {
	ConversationID    string      `json:"conversation_id"`
	ReadBy            string      `json:"read_by"`
	LastSeenMessageID int64       `json:"last_seen_message_id"`
	Reader            MemberState `json:"reader"`
	Audience          []string    `json:"audience"`
}

type ReactionUpdated struct {
	ConversationID string           `json:"conversation_id"`
	MessageID      int64            `json:"message_id"`
	UserID         string           `json:"user_id"`
	Emoji          string           `json:"emoji"`
	Added          bool             `json:"added"`
	Reactions      []model.Reaction `json:"reactions"`
	Audience       []string         `json:"audience"`
}

type MemberAction string

const (
	MemberCreated    MemberAction = "created"
	MemberAdded      MemberAction = "added"
	MemberLeft       MemberAction = "left"
	MemberKicked     MemberAction = "kicked"
	MemberRole       MemberAction = "role_changed"
	PermissionChange MemberAction = "permission_changed"
)

type MembersChanged struct {
	Conversation model.Conversation `json:"conversation"`
	Action       MemberAction       `json:"action"`
	ActorID      string             `json:"actor_id"`
	UserIDs      []string           `json:"user_ids"`
	Audience     []string           `json:"audience"`
}

type ConversationRebuilt struct {
	Conversation model.Conversation `json:"conversation"`
	Members      []MemberState      `json:"members"`
}

type Typing struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	Audience       []string `json:"audience"`
}

package ws

import (
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

type EventType string

// Server → client.
const (
	EventMessageNew          EventType = "message:new"
	EventMessageRead         EventType = "message:read"
	EventMessageEdited       EventType = "message:edited"
	EventMessageDeleted      EventType = "message:deleted"
	EventMessageRecalled     EventType = "message:recalled"
	EventReactionUpdated     EventType = "reaction:updated"
	EventTyping              EventType = "typing"
	EventMemberAdded         EventType = "member:added"
	EventMemberRemoved       EventType = "member:removed"
	EventConversationUpdated EventType = "conversation:updated"
	EventAck                 EventType = "ack"
	EventError               EventType = "error"
)

// Client → server.
const (
	ActionSend           EventType = "message:send"
	ActionEdit           EventType = "message:edit"
	ActionRecall         EventType = "message:recall"
	ActionHide           EventType = "message:hide"
	ActionDeleteForMe    EventType = "message:delete_for_me"
	ActionRead           EventType = "message:read"
	ActionReactionToggle EventType = "reaction:toggle"
	ActionTyping         EventType = "typing"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`
	// RequestID is echoed in the ack or error for this frame.
	RequestID      string `json:"request_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
	Content        string `json:"content,omitempty"`

	// For message:send
	ClientMessageID string             `json:"client_message_id,omitempty"`
	MessageType     model.MessageType  `json:"message_type,omitempty"`
	ReplyToID       *int64             `json:"reply_to_id,omitempty"`
	Attachments     []model.Attachment `json:"attachments,omitempty"`

	// For reactions
	Emoji string `json:"emoji,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- Typed payloads ---

// ConversationUpdate carries one recipient's own view of the conversation
// after a change. It is never shared between recipients.
type ConversationUpdate struct {
	LastMessageID     *int64         `json:"last_message_id"`
	LastMessageAt     *time.Time     `json:"last_message_at"`
	LastMessage       *model.Message `json:"last_message,omitempty"`
	UnreadCount       int64          `json:"unread_count"`
	LastSeenMessageID *int64         `json:"last_seen_message_id"`
}

type MessageNewPayload struct {
	ConversationID     string              `json:"conversation_id"`
	Message            model.Message       `json:"message"`
	ConversationUpdate *ConversationUpdate `json:"conversation_update"`
}

// MessageReadPayload: UnreadCount is set only for the reader.
type MessageReadPayload struct {
	ConversationID    string `json:"conversation_id"`
	ReadBy            string `json:"read_by"`
	LastSeenMessageID int64  `json:"last_seen_message_id"`
	UnreadCount       *int64 `json:"unread_count,omitempty"`
}

// MessageEditedPayload is broadcast when a message is edited.
type MessageEditedPayload struct {
	ConversationID string        `json:"conversation_id"`
	Message        model.Message `json:"message"`
	IsLastMessage  bool          `json:"is_last_message"`
}

// MessageDeletedPayload covers both admin-delete (to every member) and
// hide/delete-for-me (to the hiding user only, Scope "self").
type MessageDeletedPayload struct {
	ConversationID     string              `json:"conversation_id"`
	MessageID          int64               `json:"message_id"`
	DeletedBy          string              `json:"deleted_by,omitempty"`
	Scope              string              `json:"scope"`
	ConversationUpdate *ConversationUpdate `json:"conversation_update,omitempty"`
}

const (
	ScopeEveryone = "everyone"
	ScopeSelf     = "self"
)

type MessageRecalledPayload struct {
	ConversationID     string              `json:"conversation_id"`
	MessageID          int64               `json:"message_id"`
	IsLastMessage      bool                `json:"is_last_message"`
	ConversationUpdate *ConversationUpdate `json:"conversation_update,omitempty"`
}

// ReactionPayload is broadcast with the full reaction list of the message.
type ReactionPayload struct {
	ConversationID string           `json:"conversation_id"`
	MessageID      int64            `json:"message_id"`
	UserID         string           `json:"user_id"`
	Emoji          string           `json:"emoji"`
	Added          bool             `json:"added"`
	Reactions      []model.Reaction `json:"reactions"`
}

// TypingPayload is broadcast when a user is typing.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// MemberPayload is sent for member:added and member:removed.
type MemberPayload struct {
	ConversationID string   `json:"conversation_id"`
	UserIDs        []string `json:"user_ids"`
	ActorID        string   `json:"actor_id"`
	Action         string   `json:"action"`
}

// ConversationPayload is sent for conversation:updated.
type ConversationPayload struct {
	Conversation       model.Conversation  `json:"conversation"`
	Action             string              `json:"action,omitempty"`
	ConversationUpdate *ConversationUpdate `json:"conversation_update,omitempty"`
}

type AckPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Result    any    `json:"result,omitempty"`
}

type ErrorPayload struct {
	RequestID string      `json:"request_id,omitempty"`
	Code      apperr.Code `json:"code"`
	Message   string      `json:"message"`
}

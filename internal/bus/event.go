package bus

import "time"

// Виды событий ядра. Подписчики фильтруют по префиксу: "message." получает
// все исходы по сообщениям.
const (
	KindMessageSent     = "message.sent"
	KindMessageEdited   = "message.edited"
	KindMessageRecalled = "message.recalled"
	KindMessageHidden   = "message.hidden"
	KindMessageDeleted  = "message.deleted"
	KindMessageRead     = "message.read"
	KindReaction        = "message.reaction"
	KindMembersChanged  = "conversation.members_changed"
	KindConversation    = "conversation.updated"
	KindTyping          = "presence.typing"
)

// Event: один закоммиченный исход. Payload: типизированная запись публикующего.
type Event struct {
	Kind           string
	ConversationID string
	Timestamp      time.Time
	Payload        any
}

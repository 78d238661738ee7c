package model

import (
	"slices"
	"time"
)

type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeAttachment MessageType = "attachment"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaFile  MediaType = "file"
	MediaLink  MediaType = "link"
)

type Attachment struct {
	URL          string    `json:"url" validate:"required,url,max=2048"`
	MediaType    MediaType `json:"media_type" validate:"required,oneof=image video audio file link"`
	Name         string    `json:"name,omitempty" validate:"max=255"`
	Size         int64     `json:"size,omitempty" validate:"gte=0"`
	Mime         string    `json:"mime,omitempty" validate:"max=127"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty" validate:"omitempty,url,max=2048"`
}

type Reaction struct {
	MessageID int64     `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Message: сохранённое сообщение. ID выдаёт хранилище, он монотонно растёт и
// служит единственным ключом порядка и пагинации.
type Message struct {
	ID              int64        `json:"id"`
	ConversationID  string       `json:"conversation_id"`
	SenderID        string       `json:"sender_id"`
	ClientMessageID string       `json:"client_message_id,omitempty"`
	Type            MessageType  `json:"type"`
	Content         string       `json:"content"`
	Attachments     []Attachment `json:"attachments"`
	ReplyToID       *int64       `json:"reply_to_id,omitempty"`
	EditedAt        *time.Time   `json:"edited_at,omitempty"`
	IsRecalled      bool         `json:"is_recalled"`
	RecalledAt      *time.Time   `json:"recalled_at,omitempty"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty"`
	DeletedBy       *string      `json:"deleted_by,omitempty"`
	HiddenFor       []string     `json:"-"`
	CreatedAt       time.Time    `json:"created_at"`

	ReplyTo   *MessagePreview `json:"reply_to,omitempty"`
	Reactions []Reaction      `json:"reactions"`
}

// MessagePreview: цитата сообщения, на которое отвечают.
type MessagePreview struct {
	ID         int64       `json:"id"`
	SenderID   string      `json:"sender_id"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	IsRecalled bool        `json:"is_recalled"`
	IsDeleted  bool        `json:"is_deleted"`
}

func (m *Message) IsDeleted() bool { return m.DeletedAt != nil }

func (m *Message) HiddenForUser(userID string) bool {
	return slices.Contains(m.HiddenFor, userID)
}

// VisibleTo сообщает, видит ли userID сообщение вообще.
// Отозванное остаётся видимым как заглушка.
func (m *Message) VisibleTo(userID string) bool {
	return m.DeletedAt == nil && !m.HiddenForUser(userID)
}

// Redacted возвращает сообщение в клиентском виде: у отозванного нет текста и
// вложений, хранимый список вложений остаётся для счётчиков.
func (m Message) Redacted() Message {
	if m.IsRecalled {
		m.Content = ""
		m.Attachments = []Attachment{}
	}
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
	m.HiddenFor = nil
	return m
}

func (m *Message) Preview() *MessagePreview {
	p := &MessagePreview{
		ID:         m.ID,
		SenderID:   m.SenderID,
		Type:       m.Type,
		Content:    m.Content,
		IsRecalled: m.IsRecalled,
		IsDeleted:  m.DeletedAt != nil,
	}
	if p.IsRecalled || p.IsDeleted {
		p.Content = ""
	}
	return p
}

// Clone: глубокая копия для хранилища в памяти.
func (m *Message) Clone() *Message {
	c := *m
	c.Attachments = slices.Clone(m.Attachments)
	c.HiddenFor = slices.Clone(m.HiddenFor)
	c.Reactions = slices.Clone(m.Reactions)
	if m.ReplyToID != nil {
		v := *m.ReplyToID
		c.ReplyToID = &v
	}
	if m.DeletedBy != nil {
		v := *m.DeletedBy
		c.DeletedBy = &v
	}
	return &c
}

package model

import "time"

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

type MessagePermission string

const (
	PermissionAll        MessagePermission = "all"
	PermissionAdminsOnly MessagePermission = "admins_only"
)

type JoinMode string

const (
	JoinApproval JoinMode = "approval"
	JoinLink     JoinMode = "link"
)

// Counters: итоги по сообщениям и вложениям беседы. Растут только при отправке
// и пересчитываются по всей истории.
type Counters struct {
	TotalMessages int64 `json:"total_messages"`
	SharedImages  int64 `json:"shared_images"`
	SharedVideos  int64 `json:"shared_videos"`
	SharedAudios  int64 `json:"shared_audios"`
	SharedFiles   int64 `json:"shared_files"`
	SharedLinks   int64 `json:"shared_links"`
}

// CountersFor возвращает вклад одного отправленного сообщения.
func CountersFor(attachments []Attachment) Counters {
	c := Counters{TotalMessages: 1}
	for _, a := range attachments {
		c.addMedia(a.MediaType, 1)
	}
	return c
}

func (c *Counters) addMedia(t MediaType, n int64) {
	switch t {
	case MediaImage:
		c.SharedImages += n
	case MediaVideo:
		c.SharedVideos += n
	case MediaAudio:
		c.SharedAudios += n
	case MediaFile:
		c.SharedFiles += n
	case MediaLink:
		c.SharedLinks += n
	}
}

// AddMedia прибавляет n вложений типа t.
func (c *Counters) AddMedia(t MediaType, n int64) { c.addMedia(t, n) }

func (c *Counters) Add(o Counters) {
	c.TotalMessages += o.TotalMessages
	c.SharedImages += o.SharedImages
	c.SharedVideos += o.SharedVideos
	c.SharedAudios += o.SharedAudios
	c.SharedFiles += o.SharedFiles
	c.SharedLinks += o.SharedLinks
}

type Conversation struct {
	ID                string            `json:"id"`
	Type              ConversationType  `json:"type"`
	FriendshipID      *string           `json:"friendship_id,omitempty"`
	Name              string            `json:"name,omitempty"`
	CreatedBy         string            `json:"created_by"`
	LastMessageID     *int64            `json:"last_message_id"`
	LastMessageAt     *time.Time        `json:"last_message_at"`
	Counters          Counters          `json:"counters"`
	MessagePermission MessagePermission `json:"message_permission"`
	JoinMode          JoinMode          `json:"join_mode"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Stats: результат полной агрегации по истории беседы.
type Stats struct {
	Counters      Counters
	LastMessageID *int64
	LastMessageAt *time.Time
}

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship принадлежит сервису заявок в друзья, ядро её только читает.
type Friendship struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requester_id"`
	AddresseeID string           `json:"addressee_id"`
	Status      FriendshipStatus `json:"status"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (f *Friendship) Involves(userID string) bool {
	return f.RequesterID == userID || f.AddresseeID == userID
}

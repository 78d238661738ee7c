// Package fanout переводит исходы ядра в сообщения для конкретных получателей.
// Счётчики непрочитанного и указатели прочтения уходят только их владельцу;
// общим для всех бывает лишь то, в чём нет личного состояния (правка, реакции,
// набор текста).
package fanout

import (
	"context"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/push"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/ws"
)

// Transport отдаёт кадр во все соединения пользователя.
type Transport interface {
	SendToUser(userID string, msg ws.OutgoingMessage) bool
}

// Presence сообщает, есть ли у пользователя живое соединение в этом процессе.
type Presence interface {
	Online(userID string) bool
}

type Notifier interface {
	Notify(ctx context.Context, n push.Notification) error
}

const (
	pushTimeout    = 5 * time.Second
	pushBodyLimit  = 120
	maxPushWorkers = 32
)

type Emitter struct {
	events      <-chan bus.Event
	unsubscribe func()
	transport   Transport
	presence    Presence
	notifier    Notifier

	pushSem chan struct{}
	pushWG  sync.WaitGroup
}

// New подписывается на все исходы в b. presence и notifier могут быть nil,
// тогда пуши офлайн-получателям не отправляются.
func New(b *bus.Bus, transport Transport, presence Presence, notifier Notifier, bufSize int) *Emitter {
	events, unsubscribe := b.Subscribe("fanout", "", bufSize)
	return &Emitter{
		events:      events,
		unsubscribe: unsubscribe,
		transport:   transport,
		presence:    presence,
		notifier:    notifier,
		pushSem:     make(chan struct{}, maxPushWorkers),
	}
}

// Run доставляет события до отмены ctx или Stop. События обрабатываются по
// одному, поэтому кадры беседы уходят в порядке публикации.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.events:
			if !ok {
				return
			}
			e.handle(evt)
		}
	}
}

// Stop отписывается и ждёт уже запущенные отправки пушей.
func (e *Emitter) Stop() {
	e.unsubscribe()
	e.pushWG.Wait()
}

func (e *Emitter) handle(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case service.MessageSent:
		e.messageSent(p)
	case service.MessageEdited:
		e.broadcast(p.Audience, ws.OutgoingMessage{Type: ws.EventMessageEdited, Payload: ws.MessageEditedPayload{
			ConversationID: p.Message.ConversationID,
			Message:        p.Message,
			IsLastMessage:  p.IsLastMessage,
		}})
	case service.MessageRecalled:
		e.messageRecalled(p)
	case service.MessageHidden:
		e.messageHidden(p)
	case service.MessageDeleted:
		e.messageDeleted(p)
	case service.MessageRead:
		e.messageRead(p)
	case service.ReactionUpdated:
		e.broadcast(p.Audience, ws.OutgoingMessage{Type: ws.EventReactionUpdated, Payload: ws.ReactionPayload{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			UserID:         p.UserID,
			Emoji:          p.Emoji,
			Added:          p.Added,
			Reactions:      p.Reactions,
		}})
	case service.MembersChanged:
		e.membersChanged(p)
	case service.ConversationRebuilt:
		for _, m := range p.Members {
			e.send(m.UserID, ws.OutgoingMessage{Type: ws.EventConversationUpdated, Payload: ws.ConversationPayload{
				Conversation:       p.Conversation,
				Action:             "rebuilt",
				ConversationUpdate: updateFor(m, p.Conversation.LastMessageID, p.Conversation.LastMessageAt, nil),
			}})
		}
	case service.Typing:
		e.broadcast(lo.Without(p.Audience, p.UserID), ws.OutgoingMessage{Type: ws.EventTyping, Payload: ws.TypingPayload{
			ConversationID: p.ConversationID,
			UserID:         p.UserID,
		}})
	default:
		logger.Warnf("fanout: unhandled event %s (%T)", evt.Kind, evt.Payload)
	}
}

func (e *Emitter) messageSent(p service.MessageSent) {
	for _, m := range p.Members {
		e.send(m.UserID, ws.OutgoingMessage{Type: ws.EventMessageNew, Payload: ws.MessageNewPayload{
			ConversationID:     p.Message.ConversationID,
			Message:            p.Message,
			ConversationUpdate: updateFor(m, p.LastMessageID, p.LastMessageAt, nil),
		}})
		if m.UserID != p.Message.SenderID {
			e.handOff(m.UserID, p.Message)
		}
	}
}

func (e *Emitter) messageRecalled(p service.MessageRecalled) {
	restored := lo.KeyBy(p.Restored, func(m service.MemberState) string { return m.UserID })
	for _, uid := range p.Audience {
		payload := ws.MessageRecalledPayload{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			IsLastMessage:  p.IsLastMessage,
		}
		if m, ok := restored[uid]; ok {
			payload.ConversationUpdate = &ws.ConversationUpdate{
				UnreadCount:       m.UnreadCount,
				LastSeenMessageID: m.LastSeenMessageID,
			}
		}
		e.send(uid, ws.OutgoingMessage{Type: ws.EventMessageRecalled, Payload: payload})
	}
}

func (e *Emitter) messageHidden(p service.MessageHidden) {
	var lastID *int64
	var lastAt *time.Time
	if p.LastVisible != nil {
		lastID = lo.ToPtr(p.LastVisible.ID)
		lastAt = lo.ToPtr(p.LastVisible.CreatedAt)
	}
	e.send(p.UserID, ws.OutgoingMessage{Type: ws.EventMessageDeleted, Payload: ws.MessageDeletedPayload{
		ConversationID:     p.ConversationID,
		MessageID:          p.MessageID,
		Scope:              ws.ScopeSelf,
		ConversationUpdate: updateFor(p.Member, lastID, lastAt, p.LastVisible),
	}})
}

func (e *Emitter) messageDeleted(p service.MessageDeleted) {
	for _, m := range p.Members {
		e.send(m.UserID, ws.OutgoingMessage{Type: ws.EventMessageDeleted, Payload: ws.MessageDeletedPayload{
			ConversationID:     p.ConversationID,
			MessageID:          p.MessageID,
			DeletedBy:          p.DeletedBy,
			Scope:              ws.ScopeEveryone,
			ConversationUpdate: updateFor(m, p.LastMessageID, p.LastMessageAt, p.LastMessage),
		}})
	}
}

func (e *Emitter) messageRead(p service.MessageRead) {
	for _, uid := range p.Audience {
		payload := ws.MessageReadPayload{
			ConversationID:    p.ConversationID,
			ReadBy:            p.ReadBy,
			LastSeenMessageID: p.LastSeenMessageID,
		}
		if uid == p.ReadBy {
			payload.UnreadCount = lo.ToPtr(p.Reader.UnreadCount)
		}
		e.send(uid, ws.OutgoingMessage{Type: ws.EventMessageRead, Payload: payload})
	}
}

func (e *Emitter) membersChanged(p service.MembersChanged) {
	switch p.Action {
	case service.MemberCreated, service.MemberAdded:
		e.broadcast(p.Audience, ws.OutgoingMessage{Type: ws.EventMemberAdded, Payload: memberPayload(p)})
	case service.MemberLeft, service.MemberKicked:
		// Audience снят до удаления, так что удалённый тоже получит событие.
		e.broadcast(lo.Union(p.Audience, p.UserIDs), ws.OutgoingMessage{Type: ws.EventMemberRemoved, Payload: memberPayload(p)})
	default:
		e.broadcast(p.Audience, ws.OutgoingMessage{Type: ws.EventConversationUpdated, Payload: ws.ConversationPayload{
			Conversation: p.Conversation,
			Action:       string(p.Action),
		}})
	}
}

func memberPayload(p service.MembersChanged) ws.MemberPayload {
	return ws.MemberPayload{
		ConversationID: p.Conversation.ID,
		UserIDs:        p.UserIDs,
		ActorID:        p.ActorID,
		Action:         string(p.Action),
	}
}

func updateFor(m service.MemberState, lastID *int64, lastAt *time.Time, last *model.Message) *ws.ConversationUpdate {
	return &ws.ConversationUpdate{
		LastMessageID:     lastID,
		LastMessageAt:     lastAt,
		LastMessage:       last,
		UnreadCount:       m.UnreadCount,
		LastSeenMessageID: m.LastSeenMessageID,
	}
}

// broadcast шлёт один и тот же кадр всем из audience; только для событий без
// личного состояния.
func (e *Emitter) broadcast(audience []string, msg ws.OutgoingMessage) {
	for _, uid := range audience {
		e.send(uid, msg)
	}
}

func (e *Emitter) send(userID string, msg ws.OutgoingMessage) {
	if !e.transport.SendToUser(userID, msg) {
		logger.Debugf("fanout: %s for user=%s not delivered, no live connection", msg.Type, userID)
	}
}

// handOff передаёт новое сообщение в push-сервис, если у получателя нет
// соединения в этом процессе.
func (e *Emitter) handOff(userID string, msg model.Message) {
	if e.notifier == nil || e.presence == nil || e.presence.Online(userID) {
		return
	}
	n := push.Notification{
		UserID: userID,
		Title:  "Новое сообщение",
		Body:   pushBody(msg),
		Data: map[string]string{
			"conversation_id": msg.ConversationID,
			"message_id":      strconv.FormatInt(msg.ID, 10),
		},
	}
	select {
	case e.pushSem <- struct{}{}:
	default:
		logger.Warnf("fanout: push queue full, dropping notification for user=%s", userID)
		return
	}
	e.pushWG.Add(1)
	go func() {
		defer e.pushWG.Done()
		defer func() { <-e.pushSem }()
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, n); err != nil {
			logger.Errorf("fanout: push user=%s message=%d: %v", userID, msg.ID, err)
		}
	}()
}

func pushBody(msg model.Message) string {
	body := msg.Content
	if body == "" {
		return "Вложение"
	}
	if utf8.RuneCountInString(body) > pushBodyLimit {
		r := []rune(body)
		body = string(r[:pushBodyLimit-3]) + "..."
	}
	return body
}

// Package access решает, может ли пользователь читать беседу или писать в неё,
// и только здесь публичный идентификатор превращается во внутренний id.
package access

import (
	"context"
	"errors"
	"sync"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// Grant: результат успешной проверки. Беседа в нём снята в момент решения;
// счётчики и указатель на последнее сообщение не обновляются, где они важны,
// их нужно перечитать.
type Grant struct {
	Conversation model.Conversation
	Membership   model.Membership
}

type Validator struct {
	store storage.Store
	cache *Cache

	idMu sync.RWMutex
	ids  map[string]string
}

func NewValidator(store storage.Store, cache *Cache) *Validator {
	return &Validator{store: store, cache: cache, ids: make(map[string]string)}
}

func (v *Validator) Cache() *Cache { return v.cache }

// CheckRead пускает любого активного участника, если дружба личной беседы ещё принята.
func (v *Validator) CheckRead(ctx context.Context, conversationID, userID string) (*Grant, error) {
	return v.check(ctx, conversationID, userID, false)
}

// CheckWrite дополнительно проверяет группы admins_only.
func (v *Validator) CheckWrite(ctx context.Context, conversationID, userID string) (*Grant, error) {
	return v.check(ctx, conversationID, userID, true)
}

func (v *Validator) check(ctx context.Context, conversationID, userID string, write bool) (*Grant, error) {
	if conversationID == "" || userID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidID, "conversation and user ids are required")
	}
	grant, ok := v.cache.Get(conversationID, userID)
	if !ok {
		gen := v.cache.Generation(conversationID)
		loaded, err := v.load(ctx, conversationID, userID)
		if err != nil {
			return nil, err
		}
		grant = *loaded
		v.cache.Put(conversationID, userID, grant, gen)
	}
	if write && grant.Conversation.Type == model.ConversationGroup &&
		grant.Conversation.MessagePermission == model.PermissionAdminsOnly &&
		!grant.Membership.Role.CanModerate() {
		return nil, apperr.Forbidden(apperr.CodeOnlyAdminsCanSend, "only admins can send messages in this conversation")
	}
	return &grant, nil
}

func (v *Validator) load(ctx context.Context, conversationID, userID string) (*Grant, error) {
	var g Grant
	err := v.store.View(ctx, func(tx storage.Tx) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound(apperr.CodeConversationNotFound, "conversation not found")
		}
		if err != nil {
			return err
		}
		m, err := tx.Memberships().GetActive(ctx, conversationID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
		}
		if err != nil {
			return err
		}
		if conv.Type == model.ConversationPrivate {
			if conv.FriendshipID == nil {
				return apperr.Forbidden(apperr.CodeFriendshipNotAccepted, "friendship is not accepted")
			}
			f, err := tx.Friendships().GetByID(ctx, *conv.FriendshipID)
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.Forbidden(apperr.CodeFriendshipNotAccepted, "friendship is not accepted")
			}
			if err != nil {
				return err
			}
			if f.Status != model.FriendshipAccepted {
				return apperr.Forbidden(apperr.CodeFriendshipNotAccepted, "friendship is not accepted")
			}
		}
		g = Grant{Conversation: *conv, Membership: *m}
		return nil
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		logger.Errorf("access: load %s/%s: %v", conversationID, userID, err)
		return nil, apperr.Transient(err)
	}
	return &g, nil
}

// ResolveUser переводит идентификатор от auth-сервиса во внутренний id.
// Соответствие не меняется, поэтому запоминается на всё время жизни процесса.
func (v *Validator) ResolveUser(ctx context.Context, publicID string) (string, error) {
	if publicID == "" {
		return "", apperr.Validation(apperr.CodeInvalidID, "user id is required")
	}
	v.idMu.RLock()
	id, ok := v.ids[publicID]
	v.idMu.RUnlock()
	if ok {
		return id, nil
	}
	err := v.store.View(ctx, func(tx storage.Tx) error {
		var err error
		id, err = tx.Users().ResolvePublicID(ctx, publicID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return "", apperr.Transient(err)
	}
	v.idMu.Lock()
	v.ids[publicID] = id
	v.idMu.Unlock()
	return id, nil
}

// InvalidateMember и InvalidateConversation вызываются при каждом изменении
// участников или прав на отправку.
func (v *Validator) InvalidateMember(conversationID, userID string) {
	v.cache.InvalidateMember(conversationID, userID)
}

func (v *Validator) InvalidateConversation(conversationID string) {
	v.cache.InvalidateConversation(conversationID)
}

// Sweep запускается планировщиком.
func (v *Validator) Sweep() {
	if n := v.cache.Sweep(); n > 0 {
		logger.Debugf("access: swept %d expired entries, %d left", n, v.cache.Len())
	}
}

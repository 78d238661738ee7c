// Package memory: реализация storage.Store в памяти процесса.
// Транзакции сериализуются одним мьютексом; при ошибке состояние откатывается к снимку.
package memory

import (
	"context"
	"sync"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type state struct {
	nextMsgID     int64
	messages      map[int64]*model.Message
	byConv        map[string][]int64
	reactions     map[int64][]model.Reaction
	conversations map[string]*model.Conversation
	memberships   []*model.Membership
	friendships   map[string]*model.Friendship
	users         map[string]string
	perms         map[string]*model.UserPermissions
}

func newState() *state {
	return &state{
		messages:      make(map[int64]*model.Message),
		byConv:        make(map[string][]int64),
		reactions:     make(map[int64][]model.Reaction),
		conversations: make(map[string]*model.Conversation),
		friendships:   make(map[string]*model.Friendship),
		users:         make(map[string]string),
		perms:         make(map[string]*model.UserPermissions),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextMsgID = s.nextMsgID
	for id, m := range s.messages {
		c.messages[id] = m.Clone()
	}
	for k, ids := range s.byConv {
		c.byConv[k] = append([]int64(nil), ids...)
	}
	for k, rs := range s.reactions {
		c.reactions[k] = append([]model.Reaction(nil), rs...)
	}
	for k, v := range s.conversations {
		cp := *v
		c.conversations[k] = &cp
	}
	for _, m := range s.memberships {
		cp := *m
		c.memberships = append(c.memberships, &cp)
	}
	for k, v := range s.friendships {
		cp := *v
		c.friendships[k] = &cp
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.perms {
		cp := *v
		c.perms[k] = &cp
	}
	return c
}

type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string]error
}

func New() *Store {
	return &Store{st: newState(), faults: make(map[string]error)}
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{s: s})
}

// FailOn заставляет следующий вызов op ("memberships.IncrementUnread" и т.п.)
// вернуть err. Нужен тестам отката.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	s.faults[op] = err
	s.mu.Unlock()
}

func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

// PutFriendship сохраняет дружбу, которой владеет сервис друзей.
func (s *Store) PutFriendship(f model.Friendship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.friendships[f.ID] = &f
}

// PutUser регистрирует публичный id от auth-сервиса.
func (s *Store) PutUser(publicID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[publicID] = userID
}

func (s *Store) PutPermissions(p model.UserPermissions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.perms[p.UserID] = &p
}

type tx struct {
	s *Store
}

func (t *tx) st() *state { return t.s.st }

func (t *tx) Messages() storage.MessageStore           { return messages{t} }
func (t *tx) Reactions() storage.ReactionStore         { return reactions{t} }
func (t *tx) Conversations() storage.ConversationStore { return conversations{t} }
func (t *tx) Memberships() storage.MembershipStore     { return memberships{t} }
func (t *tx) Friendships() storage.FriendshipStore     { return friendships{t} }
func (t *tx) Users() storage.UserStore                 { return users{t} }

type friendships struct{ *tx }

func (f friendships) GetByID(_ context.Context, id string) (*model.Friendship, error) {
	v, ok := f.st().friendships[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

type users struct{ *tx }

func (u users) ResolvePublicID(_ context.Context, publicID string) (string, error) {
	id, ok := u.st().users[publicID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return id, nil
}

func (u users) GetPermissions(_ context.Context, userID string) (*model.UserPermissions, error) {
	p, ok := u.st().perms[userID]
	if !ok {
		return &model.UserPermissions{UserID: userID}, nil
	}
	cp := *p
	return &cp, nil
}

// Package service: ядро чата: жизненный цикл сообщений, счётчики непрочитанного,
// агрегат беседы и операции над участниками. Все изменения идут через storage.Store
// одной транзакцией; исходы публикуются в bus только после коммита.
package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/chatcore/internal/access"
	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type Config struct {
	EditWindow        time.Duration
	MaxContentLength  int
	MaxAttachments    int
	PageDefaultLimit  int
	PageMaxLimit      int
	RecallClearsHides bool
}

func DefaultConfig() Config {
	return Config{
		EditWindow:        15 * time.Minute,
		MaxContentLength:  5000,
		MaxAttachments:    10,
		PageDefaultLimit:  50,
		PageMaxLimit:      100,
		RecallClearsHides: true,
	}
}

const lockStripes = 64

type Service struct {
	store  storage.Store
	access *access.Validator
	pub    bus.Publisher
	cfg    Config
	now    func() time.Time

	// Отправка и удаление в одной беседе публикуются в порядке коммита.
	stripes [lockStripes]sync.Mutex
}

type Option func(*Service)

// WithClock подменяет часы (тесты окна редактирования).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store storage.Store, validator *access.Validator, pub bus.Publisher, cfg Config, opts ...Option) *Service {
	s := &Service{store: store, access: validator, pub: pub, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) lockConversation(conversationID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	mu := &s.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// clock возвращает текущее время, обрезанное до микросекунд (точность
// PostgreSQL), чтобы время в памяти и в базе совпадало.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) publish(kind, conversationID string, payload any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(bus.Event{Kind: kind, ConversationID: conversationID, Timestamp: s.clock(), Payload: payload})
}

// storageErr пропускает *apperr.Error как есть, остальное превращает во
// временную ошибку, которую можно повторить.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	logger.Errorf("service.%s: %v", op, err)
	return apperr.Transient(err)
}

func notFoundAs(err error, code apperr.Code, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(code, msg)
	}
	return err
}

func memberStates(members []model.Membership) []MemberState {
	return lo.Map(members, func(m model.Membership, _ int) MemberState {
		return stateOf(&m)
	})
}

func stateOf(m *model.Membership) MemberState {
	return MemberState{
		UserID:            m.UserID,
		UnreadCount:       m.UnreadCount,
		LastSeenMessageID: m.LastSeenMessageID,
	}
}

func userIDs(members []model.Membership) []string {
	return lo.Map(members, func(m model.Membership, _ int) string { return m.UserID })
}

// loadMessage читает сообщение вне транзакции и проверяет, что userID может
// читать его беседу.
func (s *Service) loadMessage(ctx context.Context, op string, messageID int64, userID string) (*model.Message, error) {
	if messageID <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidID, "invalid message id")
	}
	var msg *model.Message
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		msg, err = tx.Messages().GetByID(ctx, messageID)
		return notFoundAs(err, apperr.CodeMessageNotFound, "message not found")
	})
	if err != nil {
		return nil, storageErr(op, err)
	}
	if _, err := s.access.CheckRead(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

// Actions: часть ядра, доступная из сокета.
type Actions interface {
	Send(ctx context.Context, in service.SendInput) (*service.SendResult, error)
	Edit(ctx context.Context, messageID int64, userID, content string) (*model.Message, error)
	Recall(ctx context.Context, messageID int64, userID string) (*service.Result, error)
	Hide(ctx context.Context, messageID int64, userID string) (*service.Result, error)
	DeleteForMe(ctx context.Context, messageID int64, userID string) (*service.Result, error)
	MarkAsRead(ctx context.Context, conversationID, userID string) (*service.ReadResult, error)
	ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) ([]model.Reaction, error)
	Typing(ctx context.Context, conversationID, userID string) error
}

type HubConfig struct {
	MaxConns int
	// InboundRPS и InboundBurst ограничивают входящие кадры соединения; 0 выключает.
	InboundRPS   float64
	InboundBurst int
}

const actionTimeout = 5 * time.Second

// Hub хранит живые соединения процесса по внутреннему id пользователя.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	cfg        HubConfig
	actions    Actions
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(actions Actions, cfg HubConfig) *Hub {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		cfg:        cfg,
		actions:    actions,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Собираем клиентов под блокировкой, сетевой I/O под мьютексом не делаем.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.cfg.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.cfg.MaxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	logger.Debugf("ws connected user=%s", c.userID)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Сетевой I/O вне блокировки.
	c.Close()
}

// HandleMessage передаёт входящий кадр ядру и отвечает отправителю ack или error.
// Сами исходы доходят до всех участников, включая отправителя, через emitter.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws."+string(msg.Type), time.Now())()
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch msg.Type {
	case ActionSend:
		result, err = h.actions.Send(ctx, service.SendInput{
			ConversationID:  msg.ConversationID,
			SenderID:        c.userID,
			Content:         msg.Content,
			ClientMessageID: msg.ClientMessageID,
			Type:            msg.MessageType,
			ReplyToID:       msg.ReplyToID,
			Attachments:     msg.Attachments,
		})
	case ActionEdit:
		result, err = h.actions.Edit(ctx, msg.MessageID, c.userID, msg.Content)
	case ActionRecall:
		result, err = h.actions.Recall(ctx, msg.MessageID, c.userID)
	case ActionHide:
		result, err = h.actions.Hide(ctx, msg.MessageID, c.userID)
	case ActionDeleteForMe:
		result, err = h.actions.DeleteForMe(ctx, msg.MessageID, c.userID)
	case ActionRead:
		result, err = h.actions.MarkAsRead(ctx, msg.ConversationID, c.userID)
	case ActionReactionToggle:
		var reactions []model.Reaction
		reactions, err = h.actions.ToggleReaction(ctx, msg.MessageID, c.userID, msg.Emoji)
		result = ReactionsResult{Reactions: reactions}
	case ActionTyping:
		// Набор текста без ответа; отказы молча отбрасываются.
		if err := h.actions.Typing(ctx, msg.ConversationID, c.userID); err != nil {
			logger.Debugf("ws typing conversation=%s user=%s: %v", msg.ConversationID, c.userID, err)
		}
		return
	default:
		h.sendToClient(c, errorFrame(msg.RequestID, apperr.Validation(apperr.CodeInvalidInput, "unknown event type")))
		return
	}
	if err != nil {
		h.sendToClient(c, errorFrame(msg.RequestID, err))
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventAck, Payload: AckPayload{RequestID: msg.RequestID, Result: result}})
}

// ReactionsResult: тело ack для reaction:toggle.
type ReactionsResult struct {
	Reactions []model.Reaction `json:"reactions"`
}

func errorFrame(requestID string, err error) OutgoingMessage {
	p := ErrorPayload{RequestID: requestID, Code: apperr.CodeStorageUnavailable, Message: "internal error"}
	if ae, ok := apperr.As(err); ok {
		p.Code = ae.Code
		p.Message = ae.Message
	} else {
		logger.Errorf("ws action: %v", err)
	}
	return OutgoingMessage{Type: EventError, Payload: p}
}

// SendToUser ставит msg в очередь всех локальных соединений userID и сообщает,
// было ли хоть одно.
func (h *Hub) SendToUser(userID string, msg OutgoingMessage) bool {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return false
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
	return len(targets) > 0
}

// Online: есть ли у userID соединение в этом процессе.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Connections возвращает число живых соединений.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Буфер отправки полон: закрываем медленного клиента.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Package redis отвечает за межпроцессную доставку: кадр для пользователя публикуется в
// канал user:{id}, каждый процесс API подписан на user:* и отдаёт кадр своим
// локальным соединениям.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/ws"
)

const channelPrefix = "user:"

// Local: получатель внутри процесса, обычно *ws.Hub.
type Local interface {
	SendToUser(userID string, msg ws.OutgoingMessage) bool
}

// envelope: один пересылаемый кадр. По Origin опубликовавший процесс
// пропускает свою копию, он уже доставил её локально.
type envelope struct {
	Origin  string              `json:"origin"`
	Type    ws.EventType        `json:"type"`
	Payload jsoniter.RawMessage `json:"payload"`
}

type Relay struct {
	cli    *redis.Client
	local  Local
	origin string
}

// New подключается к url и проверяет соединение.
func New(ctx context.Context, url string, local Local) (*Relay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cli, local), nil
}

func NewWithClient(cli *redis.Client, local Local) *Relay {
	return &Relay{cli: cli, local: local, origin: uuid.NewString()}
}

func (r *Relay) Close() error {
	return r.cli.Close()
}

// SendToUser доставляет локально и публикует для остальных процессов.
// Результат говорит только о локальной доставке.
func (r *Relay) SendToUser(userID string, msg ws.OutgoingMessage) bool {
	delivered := r.local.SendToUser(userID, msg)
	data, err := r.encode(msg)
	if err != nil {
		logger.Errorf("relay encode %s user=%s: %v", msg.Type, userID, err)
		return delivered
	}
	if err := r.cli.Publish(context.Background(), channelPrefix+userID, data).Err(); err != nil {
		logger.Errorf("relay publish %s user=%s: %v", msg.Type, userID, err)
	}
	return delivered
}

func (r *Relay) encode(msg ws.OutgoingMessage) ([]byte, error) {
	payload, err := jsoniter.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	return jsoniter.Marshal(envelope{Origin: r.origin, Type: msg.Type, Payload: payload})
}

// Run принимает кадры других процессов до отмены ctx.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.cli.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(m.Channel, m.Payload)
		}
	}
}

func (r *Relay) deliver(channel, payload string) {
	userID, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || userID == "" {
		return
	}
	var env envelope
	if err := jsoniter.UnmarshalFromString(payload, &env); err != nil {
		logger.Errorf("relay decode channel=%s: %v", channel, err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.SendToUser(userID, ws.OutgoingMessage{Type: env.Type, Payload: env.Payload})
}

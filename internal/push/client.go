package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"github.com/chatcore/internal/logger"
)

// ErrUnavailable возвращается, пока breaker открыт.
var ErrUnavailable = errors.New("push: service unavailable")

type Config struct {
	BaseURL string
	Timeout time.Duration
	// MaxFailures ошибок подряд открывают breaker на OpenFor.
	MaxFailures uint32
	OpenFor     time.Duration
}

// Client вызывает микросервис пуш-уведомлений через circuit breaker.
// Если BaseURL пустой: Notify no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		return &Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "push",
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

// Enabled == false, если push-сервис не настроен.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Notification: запрос на отправку уведомления.
type Notification struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notify передаёт n в push-сервис. Пока breaker открыт, сразу возвращает
// ErrUnavailable.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	if c.baseURL == "" {
		return nil
	}
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.post(ctx, n)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

func (c *Client) post(ctx context.Context, n Notification) error {
	body, err := jsoniter.Marshal(n)
	if err != nil {
		return fmt.Errorf("push notify marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push notify: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push notify: status %d", resp.StatusCode)
	}
	return nil
}

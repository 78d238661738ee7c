package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
)

func TestNotifyPostsNotification(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notify" || r.Method != http.MethodPost {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if err := jsoniter.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/"})
	n := Notification{UserID: "u1", Title: "t", Body: "b", Data: map[string]string{"conversation_id": "c1"}}
	if err := c.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.UserID != "u1" || got.Data["conversation_id"] != "c1" {
		t.Errorf("got %+v", got)
	}
}

func TestNotifyDisabled(t *testing.T) {
	c := NewClient(Config{})
	if c.Enabled() {
		t.Error("client without URL reports enabled")
	}
	if err := c.Notify(context.Background(), Notification{UserID: "u1"}); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxFailures: 3, OpenFor: time.Hour})
	for i := 0; i < 3; i++ {
		err := c.Notify(context.Background(), Notification{UserID: "u1"})
		if err == nil || errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: got %v, want a status error", i, err)
		}
	}
	if err := c.Notify(context.Background(), Notification{UserID: "u1"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

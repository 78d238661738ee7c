package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"

	"github.com/chatcore/internal/apperr"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, GetPublicID(r.Context())+"|"+GetUserID(r.Context()))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := jsoniter.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestAuthServiceValidate(t *testing.T) {
	var got validateRequest
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/validate" {
			t.Errorf("path %s", r.URL.Path)
		}
		if err := jsoniter.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		if got.Signature != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"user_id":"pub-alice"}`)
	}))
	defer auth.Close()

	h := AuthServiceValidate(auth.URL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = io.WriteString(w, GetPublicID(r.Context())+"|"+string(body))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/messages?x=1", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("X-Session-Id", "s1")
	req.Header.Set("X-Timestamp", "1700000000")
	req.Header.Set("X-Signature", "good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != `pub-alice|{"content":"hi"}` {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if got.Path != "/api/conversations/c1/messages" || got.Method != http.MethodPost || got.Body != `{"content":"hi"}` {
		t.Errorf("validate request = %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/x?session_id=s1&timestamp=1&signature=bad", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: got %d", rec.Code)
	}
}

type resolverFunc func(ctx context.Context, publicID string) (string, error)

func (f resolverFunc) ResolveUser(ctx context.Context, publicID string) (string, error) {
	return f(ctx, publicID)
}

func TestResolveIdentity(t *testing.T) {
	resolver := resolverFunc(func(_ context.Context, publicID string) (string, error) {
		switch publicID {
		case "pub-alice":
			return "alice", nil
		case "pub-ghost":
			return "", apperr.NotFound(apperr.CodeUserNotFound, "user not found")
		}
		return "", errors.New("connection refused")
	})
	h := ResolveIdentity(resolver)(http.HandlerFunc(echoUser))

	cases := []struct {
		publicID string
		status   int
		body     string
	}{
		{"pub-alice", http.StatusOK, "pub-alice|alice"},
		{"pub-ghost", http.StatusUnauthorized, ""},
		{"pub-down", http.StatusServiceUnavailable, ""},
		{"", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.publicID != "" {
			req = req.WithContext(context.WithValue(req.Context(), PublicIDKey, tc.publicID))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Errorf("%q: got %d, want %d", tc.publicID, rec.Code, tc.status)
		}
		if tc.body != "" && rec.Body.String() != tc.body {
			t.Errorf("%q: body %q", tc.publicID, rec.Body.String())
		}
	}
}

func TestRateLimitPerIPAndUser(t *testing.T) {
	h := RateLimit(0.001, 2)(http.HandlerFunc(echoUser))

	do := func(ip, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-Ip", ip)
		if user != "" {
			req = req.WithContext(WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("10.0.0.1", "") != http.StatusOK || do("10.0.0.1", "") != http.StatusOK {
		t.Fatal("burst of 2 should pass")
	}
	if code := do("10.0.0.1", ""); code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d, want 429", code)
	}
	if code := do("10.0.0.2", ""); code != http.StatusOK {
		t.Errorf("other IP: got %d", code)
	}

	// The user bucket is shared across addresses.
	do("10.0.1.1", "bob")
	do("10.0.1.2", "bob")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-Ip", "10.0.1.3")
	h.ServeHTTP(rec, req.WithContext(WithUserID(req.Context(), "bob")))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("user over limit: got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != apperr.CodeRateLimited {
		t.Errorf("code = %s", body.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, 0)(http.HandlerFunc(echoUser))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(http.HandlerFunc(echoUser))

	cases := []struct {
		name   string
		remote string
		secret string
		status int
	}{
		{"loopback", "127.0.0.1:5000", "", http.StatusOK},
		{"private", "10.1.2.3:5000", "", http.StatusOK},
		{"public", "203.0.113.9:5000", "", http.StatusForbidden},
		{"public with secret", "203.0.113.9:5000", "s3cret", http.StatusOK},
		{"public with wrong secret", "203.0.113.9:5000", "nope", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/internal/x", nil)
		req.RemoteAddr = tc.remote
		if tc.secret != "" {
			req.Header.Set("X-Internal-Secret", tc.secret)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Errorf("%s: got %d, want %d", tc.name, rec.Code, tc.status)
		}
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RequestLog(RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "internal server error" {
		t.Errorf("body = %+v", body)
	}
}

package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/chatcore/internal/logger"
)

type validateRequest struct {
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body"`
}

// AuthServiceValidate вызывает микросервис авторизации для проверки сессии
// (X-Session-Id, X-Timestamp, X-Signature). Идентификатор, который вернул
// сервис, кладётся в контекст как PublicIDKey.
func AuthServiceValidate(authServiceURL string, client *http.Client) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	authServiceURL = strings.TrimSuffix(authServiceURL, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vr := validateRequest{
				SessionID: headerOrQuery(r, "X-Session-Id", "session_id"),
				Timestamp: headerOrQuery(r, "X-Timestamp", "timestamp"),
				Signature: headerOrQuery(r, "X-Signature", "signature"),
				Method:    r.Method,
				// Путь для подписи: только pathname, без query.
				Path: r.URL.Path,
			}
			if vr.SessionID == "" || vr.Timestamp == "" || vr.Signature == "" {
				unauthorized(w)
				return
			}
			if r.Body != nil {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					writeError(w, http.StatusBadRequest, errorBody{Error: "bad request"})
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				vr.Body = string(body)
			}

			publicID, err := validate(r.Context(), client, authServiceURL, vr)
			if err != nil {
				logger.Debugf("auth validate %s %s: %v", r.Method, r.URL.Path, err)
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), PublicIDKey, publicID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

type authError string

func (e authError) Error() string { return string(e) }

func validate(ctx context.Context, client *http.Client, baseURL string, vr validateRequest) (string, error) {
	payload, err := jsoniter.Marshal(vr)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/internal/validate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", authError("auth service status " + resp.Status)
	}
	var result struct {
		UserID string `json:"user_id"`
	}
	if err := jsoniter.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.UserID == "" {
		return "", authError("auth service returned no user")
	}
	return result.UserID, nil
}

package middleware

import "context"

type contextKey string

const (
	// PublicIDKey: идентификатор от auth-сервиса.
	PublicIDKey contextKey = "public_id"
	// UserIDKey: внутренний id, найденный ResolveIdentity.
	UserIDKey contextKey = "user_id"
)

// GetUserID возвращает внутренний user_id (устанавливается ResolveIdentity).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func GetPublicID(ctx context.Context) string {
	v, _ := ctx.Value(PublicIDKey).(string)
	return v
}

// WithUserID кладёт внутренний user_id в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

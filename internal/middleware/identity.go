package middleware

import (
	"context"
	"net/http"

	"github.com/chatcore/internal/apperr"
)

// Resolver переводит публичный идентификатор во внутренний id.
type Resolver interface {
	ResolveUser(ctx context.Context, publicID string) (string, error)
}

// ResolveIdentity переводит публичный идентификатор из AuthServiceValidate во
// внутренний user_id. Дальше по цепочке виден только внутренний id.
func ResolveIdentity(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			publicID := GetPublicID(r.Context())
			if publicID == "" {
				unauthorized(w)
				return
			}
			userID, err := resolver.ResolveUser(r.Context(), publicID)
			if err != nil {
				if ae, ok := apperr.As(err); ok {
					if ae.Kind == apperr.KindNotFound {
						unauthorized(w)
						return
					}
					writeAppError(w, ae)
					return
				}
				writeAppError(w, apperr.Transient(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	logctx "github.com/anubhavg-icpl/grantha-sub000/internal/pkg/log"
	"github.com/anubhavg-icpl/grantha-sub000/internal/service"

	"github.com/google/uuid"
)

type principalKey struct{}

// Principal — аутентифицированный пользователь запроса и сессия (jti записи
// реестра), в рамках которой выпущен его access-токен. SessionID может быть
// uuid.Nil, если токен выпущен без привязки к сессии.
type Principal struct {
	User      *models.User
	SessionID uuid.UUID
}

// PrincipalFrom достаёт аутентифицированного пользователя из контекста.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// bearerToken извлекает Bearer-токен из Authorization.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}

// Authenticate проверяет access-токен и кладёт Principal в контекст.
// Без валидного токена запрос завершается 401 с обезличенным сообщением.
func Authenticate(svc *service.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthenticated(w, r)
				return
			}

			user, sid, err := svc.ValidateAccessToken(r.Context(), token)
			if err != nil {
				writeUnauthenticated(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, &Principal{User: user, SessionID: sid})
			ctx = logctx.With(ctx, "user_id", user.ID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthenticateOptional пытается проверить access-токен, но пропускает запрос
// дальше и без него. Используется на /auth/logout: выход должен быть
// безопасен при частично невалидном входе.
func AuthenticateOptional(svc *service.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				if user, sid, err := svc.ValidateAccessToken(r.Context(), token); err == nil {
					ctx := context.WithValue(r.Context(), principalKey{}, &Principal{User: user, SessionID: sid})
					r = r.WithContext(ctx)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	errObj := map[string]string{
		"code":    "unauthenticated",
		"message": "unauthenticated",
	}
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		errObj["request_id"] = rid
	}

	_ = json.NewEncoder(w).Encode(map[string]any{"error": errObj})
}

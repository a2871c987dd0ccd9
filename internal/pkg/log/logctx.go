// log пробрасывает request-scoped slog.Logger через context.Context.
// Транспортный слой кладёт логгер с request_id, слои ниже достают его
// через From и пишут события с той же привязкой.
package log

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// Into возвращает контекст с вложенным логгером.
func Into(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From достаёт логгер из контекста. Если логгер не был вложен —
// возвращается slog.Default(), чтобы вызывающий код не проверял nil.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// With дополняет логгер в контексте атрибутами и возвращает новый контекст.
// Используется, когда по ходу запроса появляется новая привязка
// (например, user_id после аутентификации).
func With(ctx context.Context, args ...any) context.Context {
	return Into(ctx, From(ctx).With(args...))
}

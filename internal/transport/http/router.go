package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/anubhavg-icpl/grantha-sub000/internal/service"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/handlers"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc *service.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
		middleware.Metrics(),            // считаем запросы/латентность по шаблону маршрута
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	// Зависимости хендлеров.
	h := handlers.New(svc)

	// Регистрация маршрутов.
	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, svc)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, svc)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, svc *service.Service) {
	// Публичные эндпойнты.
	r.Post("/auth/register", h.RegisterUser)
	r.Post("/auth/login", h.LoginUser)
	r.Post("/auth/refresh", h.RefreshToken)
	r.Post("/auth/verify-email", h.VerifyEmail)
	r.Post("/auth/password-reset/request", h.RequestPasswordReset)
	r.Post("/auth/password-reset/confirm", h.ConfirmPasswordReset)

	// Logout: Bearer опционален — выход должен работать и по одному
	// refresh-токену из тела, и при истёкшем access-токене.
	r.Group(func(g chi.Router) {
		g.Use(middleware.AuthenticateOptional(svc))
		g.Post("/auth/logout", h.Logout)
	})

	// Защищённое поддерево: валидный access-токен обязателен.
	r.Group(func(g chi.Router) {
		g.Use(middleware.Authenticate(svc))

		g.Get("/me", h.Me)
		g.Put("/me", h.UpdateMe)
		g.Delete("/me", h.DeactivateMe)
		g.Get("/me/audit", h.MyAuditEvents)

		g.Post("/auth/change-password", h.ChangePassword)
		g.Post("/auth/verify-email/request", h.RequestEmailVerification)

		g.Get("/sessions", h.ListSessions)
		g.Delete("/sessions/{id}", h.RevokeSession)
	})
}

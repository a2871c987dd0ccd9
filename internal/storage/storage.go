// storage задаёт контракты работы с персистентным слоем auth-сервиса.
//
// Контракт один для всех бэкендов: durable-реализация на PostgreSQL
// (storage/postgres) и in-memory реализация (storage/memory) подключаются
// за одним и тем же интерфейсом и выбираются конфигурацией.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — запись не найдена (пользователь/refresh-токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/email/jti).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByUsername находит пользователя по имени.
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByVerificationToken находит пользователя по токену подтверждения e-mail.
	UserByVerificationToken(ctx context.Context, token string) (*models.User, error)
	// UserByResetToken находит пользователя по токену сброса пароля.
	UserByResetToken(ctx context.Context, token string) (*models.User, error)
	// UpdateUser сохраняет изменённые поля профиля и служебные поля
	// (верификация, сброс пароля, активность).
	UpdateUser(ctx context.Context, user *models.User) error
	// UpdatePasswordHash заменяет хэш пароля.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	// RecordLoginFailure увеличивает счётчик неудачных входов и,
	// если передан lockedUntil, выставляет блокировку.
	// Возвращает новое значение счётчика.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, lockedUntil *time.Time) (int, error)
	// ResetLoginFailures сбрасывает счётчик и блокировку после успешного
	// входа и фиксирует время последней аутентификации.
	ResetLoginFailures(ctx context.Context, id uuid.UUID, lastLoginAt time.Time) error
}

// RefreshTokenStorage — реестр выданных refresh-токенов.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новую активную запись.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByID находит запись по jti.
	RefreshTokenByID(ctx context.Context, id uuid.UUID) (*models.RefreshToken, error)
	// RevokeRefreshToken пытается отозвать запись.
	// Возвращает:
	//   (true, nil)  — запись была активна и отозвана сейчас;
	//   (false, nil) — запись уже была отозвана (первая причина сохраняется);
	//   (false, ErrNotFound) — запись не найдена.
	RevokeRefreshToken(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// RevokeAllRefreshTokens отзывает все активные записи пользователя,
	// возвращает число отозванных.
	RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID, reason string) (int64, error)
	// RevokeExpiredTokens помечает отозванными все неотозванные записи
	// с истёкшим сроком (reason = "expired"); возвращает число записей.
	// Гигиеническая операция: корректность проверки валидности от неё
	// не зависит.
	RevokeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	// ActiveRefreshTokensByUser возвращает действующие записи пользователя.
	ActiveRefreshTokensByUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)
}

// AuditStorage — журнал событий безопасности.
// Контракт намеренно не содержит операций обновления и удаления:
// событие неизменяемо после вставки.
type AuditStorage interface {
	// SaveAuditEvent добавляет событие в журнал.
	SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error
	// AuditEventsByUser возвращает последние события пользователя
	// (для мониторинга безопасности).
	AuditEventsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditEvent, error)
}

// Storage задаёт контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	AuditStorage
	Close()
}

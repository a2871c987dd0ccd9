// service содержит бизнес-логику auth-сервиса: регистрацию и аутентификацию
// пользователей с защитой от перебора, выпуск/проверку/отзыв токенов,
// управление сессиями и журнал аудита — поверх интерфейсов из пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданное хранилище (storage.Storage) потокобезопасно.
//   - Внутри одной операции шаги "проверить учётные данные -> выпустить токены ->
//     сохранить запись реестра -> записать событие аудита" выполняются строго
//     последовательно; между разными операциями порядок не гарантируется.
//   - Ошибки возвращаются и далее маппятся транспортом на HTTP-коды
//     (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"

	"github.com/anubhavg-icpl/grantha-sub000/internal/cache"
	"github.com/anubhavg-icpl/grantha-sub000/internal/config"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401 (внешне неотличимо от других отказов входа).
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked — превышен порог неудачных входов, действует блокировка.
	// Транспорт: HTTP 401 с тем же обезличенным сообщением (причина — только
	// в журнале аудита и логах).
	ErrAccountLocked = errors.New("account locked")

	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи
	// или отсутствует в реестре. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк. Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenTypeMismatch — клейм token_type не совпадает с ожидаемым
	// использованием (access вместо refresh и наоборот). Транспорт: HTTP 401.
	ErrTokenTypeMismatch = errors.New("token type mismatch")

	// ErrTokenRevoked — запись реестра отозвана (logout/компрометация) и токен
	// недействителен независимо от собственного срока. Транспорт: HTTP 401.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrUsernameTaken — имя пользователя уже занято. Транспорт: HTTP 409.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrEmailTaken — e-mail уже занят другим пользователем. Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrUserNotFound — пользователь не существует. Транспорт: HTTP 404.
	ErrUserNotFound = errors.New("user not found")

	// ErrSessionNotFound — запись сессии не существует или принадлежит другому
	// пользователю (внешне неразличимо). Транспорт: HTTP 404.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidUsername — имя пользователя не проходит валидацию (3..50 символов).
	// Транспорт: HTTP 400.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidEmail — e-mail имеет некорректный формат. Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности.
	// Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrVerificationInvalid — токен подтверждения e-mail не найден или истёк.
	// Транспорт: HTTP 400.
	ErrVerificationInvalid = errors.New("verification token invalid or expired")

	// ErrResetInvalid — токен сброса пароля не найден или истёк.
	// Транспорт: HTTP 400.
	ErrResetInvalid = errors.New("reset token invalid or expired")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный jti
	// (крайне редкие коллизии при сохранении записи реестра). Транспорт: HTTP 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage  storage.Storage
	cfg      config.AuthConfig
	security config.SecurityConfig
	rcache   cache.RefreshCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, cfg config.AuthConfig, security config.SecurityConfig) *Service {
	return &Service{
		storage:  storage,
		cfg:      cfg,
		security: security,
	}
}

// SetRefreshCache устанавливает кэш состояния refresh-токенов (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}

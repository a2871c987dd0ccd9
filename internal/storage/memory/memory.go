// memory — in-memory реализация контракта storage.Storage.
//
// Используется как облегчённый бэкенд (локальная разработка, тесты) за тем же
// интерфейсом, что и PostgreSQL-реализация; выбирается конфигурацией.
// Все операции потокобезопасны: состояние защищено sync.RWMutex,
// наружу отдаются копии записей.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/google/uuid"
)

type Storage struct {
	mu sync.RWMutex

	users         map[uuid.UUID]*models.User
	byUsername    map[string]uuid.UUID
	byEmail       map[string]uuid.UUID
	refreshTokens map[uuid.UUID]*models.RefreshToken
	auditEvents   []models.AuditEvent
}

// New создаёт пустое in-memory хранилище.
func New() *Storage {
	return &Storage{
		users:         make(map[uuid.UUID]*models.User),
		byUsername:    make(map[string]uuid.UUID),
		byEmail:       make(map[string]uuid.UUID),
		refreshTokens: make(map[uuid.UUID]*models.RefreshToken),
	}
}

// Close освобождает ресурсы (для in-memory — no-op).
func (s *Storage) Close() {}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)

// SaveUser создаёт нового пользователя.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.byUsername[strings.ToLower(user.Username)]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if user.Email != "" {
		if _, ok := s.byEmail[strings.ToLower(user.Email)]; ok {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
	}

	cp := *user
	s.users[user.ID] = &cp
	s.byUsername[strings.ToLower(user.Username)] = user.ID
	if user.Email != "" {
		s.byEmail[strings.ToLower(user.Email)] = user.ID
	}

	return nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.memory.UserByID"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	cp := *user
	return &cp, nil
}

// UserByUsername находит пользователя по имени.
func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.memory.UserByUsername"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	cp := *s.users[id]
	return &cp, nil
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.memory.UserByEmail"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	cp := *s.users[id]
	return &cp, nil
}

// UserByVerificationToken находит пользователя по токену подтверждения e-mail.
func (s *Storage) UserByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	const op = "storage.memory.UserByVerificationToken"

	return s.userByScan(ctx, op, func(u *models.User) bool {
		return token != "" && u.VerificationToken == token
	})
}

// UserByResetToken находит пользователя по токену сброса пароля.
func (s *Storage) UserByResetToken(ctx context.Context, token string) (*models.User, error) {
	const op = "storage.memory.UserByResetToken"

	return s.userByScan(ctx, op, func(u *models.User) bool {
		return token != "" && u.ResetToken == token
	})
}

func (s *Storage) userByScan(ctx context.Context, op string, match func(*models.User) bool) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if match(user) {
			cp := *user
			return &cp, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
}

// UpdateUser сохраняет изменённые поля профиля и служебные поля.
func (s *Storage) UpdateUser(ctx context.Context, user *models.User) error {
	const op = "storage.memory.UpdateUser"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[user.ID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	newUsername := strings.ToLower(user.Username)
	if id, taken := s.byUsername[newUsername]; taken && id != user.ID {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	newEmail := strings.ToLower(user.Email)
	if newEmail != "" {
		if id, taken := s.byEmail[newEmail]; taken && id != user.ID {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
	}

	delete(s.byUsername, strings.ToLower(cur.Username))
	if cur.Email != "" {
		delete(s.byEmail, strings.ToLower(cur.Email))
	}

	cur.Username = user.Username
	cur.Email = user.Email
	cur.IsActive = user.IsActive
	cur.IsVerified = user.IsVerified
	cur.DisplayName = user.DisplayName
	cur.Bio = user.Bio
	cur.VerificationToken = user.VerificationToken
	cur.VerificationSentAt = user.VerificationSentAt
	cur.ResetToken = user.ResetToken
	cur.ResetTokenExpiresAt = user.ResetTokenExpiresAt
	cur.UpdatedAt = time.Now().UTC()

	s.byUsername[newUsername] = cur.ID
	if newEmail != "" {
		s.byEmail[newEmail] = cur.ID
	}

	return nil
}

// UpdatePasswordHash заменяет хэш пароля.
func (s *Storage) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	const op = "storage.memory.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()

	return nil
}

// RecordLoginFailure увеличивает счётчик неудачных входов.
func (s *Storage) RecordLoginFailure(ctx context.Context, id uuid.UUID, lockedUntil *time.Time) (int, error) {
	const op = "storage.memory.RecordLoginFailure"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	user.FailedLoginAttempts++
	if lockedUntil != nil {
		user.LockedUntil = lockedUntil
	}
	user.UpdatedAt = time.Now().UTC()

	return user.FailedLoginAttempts, nil
}

// ResetLoginFailures сбрасывает счётчик и блокировку после успешного входа.
func (s *Storage) ResetLoginFailures(ctx context.Context, id uuid.UUID, lastLoginAt time.Time) error {
	const op = "storage.memory.ResetLoginFailures"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &lastLoginAt
	user.UpdatedAt = time.Now().UTC()

	return nil
}

// SaveRefreshToken сохраняет новую запись реестра refresh-токенов.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[token.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	cp := *token
	s.refreshTokens[token.ID] = &cp

	return nil
}

// RefreshTokenByID находит запись по jti.
func (s *Storage) RefreshTokenByID(ctx context.Context, id uuid.UUID) (*models.RefreshToken, error) {
	const op = "storage.memory.RefreshTokenByID"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	cp := *token
	return &cp, nil
}

// RevokeRefreshToken пытается отозвать запись, если она ещё не отозвана.
func (s *Storage) RevokeRefreshToken(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	const op = "storage.memory.RevokeRefreshToken"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if token.Revoked {
		return false, nil
	}

	revoke(token, reason, time.Now().UTC())

	return true, nil
}

// RevokeAllRefreshTokens отзывает все активные записи пользователя.
func (s *Storage) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	const op = "storage.memory.RevokeAllRefreshTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for _, token := range s.refreshTokens {
		if token.UserID == userID && token.IsActive && !token.Revoked {
			revoke(token, reason, now)
			count++
		}
	}

	return count, nil
}

// RevokeExpiredTokens помечает отозванными все неотозванные записи
// с истёкшим сроком.
func (s *Storage) RevokeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.memory.RevokeExpiredTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, token := range s.refreshTokens {
		if !token.Revoked && !token.ExpiresAt.After(now) {
			revoke(token, "expired", now)
			count++
		}
	}

	return count, nil
}

// ActiveRefreshTokensByUser возвращает действующие записи пользователя
// в порядке создания.
func (s *Storage) ActiveRefreshTokensByUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "storage.memory.ActiveRefreshTokensByUser"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var tokens []models.RefreshToken
	for _, token := range s.refreshTokens {
		if token.UserID == userID && token.Valid(now) {
			tokens = append(tokens, *token)
		}
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})

	return tokens, nil
}

// SaveAuditEvent добавляет событие безопасности в журнал.
func (s *Storage) SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	const op = "storage.memory.SaveAuditEvent"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditEvents = append(s.auditEvents, *event)

	return nil
}

// AuditEventsByUser возвращает последние события пользователя.
func (s *Storage) AuditEventsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	const op = "storage.memory.AuditEventsByUser"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []models.AuditEvent
	for i := len(s.auditEvents) - 1; i >= 0 && len(events) < limit; i-- {
		e := s.auditEvents[i]
		if e.UserID != nil && *e.UserID == userID {
			events = append(events, e)
		}
	}

	return events, nil
}

// revoke выполняет односторонний переход записи в отозванное состояние.
// Вызывается только под s.mu.
func revoke(token *models.RefreshToken, reason string, now time.Time) {
	token.Revoked = true
	token.IsActive = false
	token.RevokedAt = &now
	token.RevokedReason = reason
}

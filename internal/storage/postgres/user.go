package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const userColumns = `
	id, username, email, password_hash,
	is_active, is_verified, is_admin,
	display_name, bio,
	failed_login_attempts, locked_until,
	verification_token, verification_sent_at,
	reset_token, reset_token_expires_at,
	last_login_at, created_at, updated_at
`

// SaveUser создаёт нового пользователя в БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users(
			id, username, email, password_hash,
			is_active, is_verified, is_admin,
			display_name, bio,
			failed_login_attempts, locked_until,
			verification_token, verification_sent_at,
			reset_token, reset_token_expires_at,
			last_login_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.Username,
		nullIfEmpty(user.Email),
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
		user.IsAdmin,
		user.DisplayName,
		user.Bio,
		user.FailedLoginAttempts,
		user.LockedUntil,
		nullIfEmpty(user.VerificationToken),
		user.VerificationSentAt,
		nullIfEmpty(user.ResetToken),
		user.ResetTokenExpiresAt,
		user.LastLoginAt,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	return s.userBy(ctx, op, "id = $1", id)
}

// UserByUsername находит пользователя по имени.
func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.postgres.UserByUsername"

	return s.userBy(ctx, op, "username = $1", username)
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	return s.userBy(ctx, op, "email = $1", email)
}

// UserByVerificationToken находит пользователя по токену подтверждения e-mail.
func (s *Storage) UserByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	const op = "storage.postgres.UserByVerificationToken"

	return s.userBy(ctx, op, "verification_token = $1", token)
}

// UserByResetToken находит пользователя по токену сброса пароля.
func (s *Storage) UserByResetToken(ctx context.Context, token string) (*models.User, error) {
	const op = "storage.postgres.UserByResetToken"

	return s.userBy(ctx, op, "reset_token = $1", token)
}

func (s *Storage) userBy(ctx context.Context, op, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	var (
		user              models.User
		email             *string
		verificationToken *string
		resetToken        *string
	)

	err := s.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&email,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsVerified,
		&user.IsAdmin,
		&user.DisplayName,
		&user.Bio,
		&user.FailedLoginAttempts,
		&user.LockedUntil,
		&verificationToken,
		&user.VerificationSentAt,
		&resetToken,
		&user.ResetTokenExpiresAt,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user.Email = deref(email)
	user.VerificationToken = deref(verificationToken)
	user.ResetToken = deref(resetToken)

	return &user, nil
}

// UpdateUser сохраняет изменённые поля профиля и служебные поля.
// Счётчик неудачных входов и хэш пароля изменяются отдельными операциями.
func (s *Storage) UpdateUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.UpdateUser"

	query := `
		UPDATE users
		SET username = $2,
			email = $3,
			is_active = $4,
			is_verified = $5,
			display_name = $6,
			bio = $7,
			verification_token = $8,
			verification_sent_at = $9,
			reset_token = $10,
			reset_token_expires_at = $11,
			updated_at = $12
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query,
		user.ID,
		user.Username,
		nullIfEmpty(user.Email),
		user.IsActive,
		user.IsVerified,
		user.DisplayName,
		user.Bio,
		nullIfEmpty(user.VerificationToken),
		user.VerificationSentAt,
		nullIfEmpty(user.ResetToken),
		user.ResetTokenExpiresAt,
		time.Now().UTC(),
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpdatePasswordHash заменяет хэш пароля.
func (s *Storage) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	const op = "storage.postgres.UpdatePasswordHash"

	query := `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// RecordLoginFailure увеличивает счётчик неудачных входов одним запросом,
// чтобы конкурентные неудачные попытки не перезаписывали счётчик друг друга
// и один вызов никогда не увеличивал его дважды.
func (s *Storage) RecordLoginFailure(ctx context.Context, id uuid.UUID, lockedUntil *time.Time) (int, error) {
	const op = "storage.postgres.RecordLoginFailure"

	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			locked_until = COALESCE($2, locked_until),
			updated_at = $3
		WHERE id = $1
		RETURNING failed_login_attempts
	`

	var attempts int
	err := s.db.QueryRow(ctx, query, id, lockedUntil, time.Now().UTC()).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return attempts, nil
}

// ResetLoginFailures сбрасывает счётчик и блокировку после успешного входа.
func (s *Storage) ResetLoginFailures(ctx context.Context, id uuid.UUID, lastLoginAt time.Time) error {
	const op = "storage.postgres.ResetLoginFailures"

	query := `
		UPDATE users
		SET failed_login_attempts = 0,
			locked_until = NULL,
			last_login_at = $2,
			updated_at = $3
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id, lastLoginAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

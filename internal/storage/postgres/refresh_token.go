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

// SaveRefreshToken сохраняет новую запись реестра refresh-токенов.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
		INSERT INTO refresh_tokens(
			id, user_id, expires_at,
			is_active, revoked, revoked_at, revoked_reason,
			ip, user_agent, device_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.ExpiresAt,
		token.IsActive,
		token.Revoked,
		token.RevokedAt,
		token.RevokedReason,
		token.IP,
		token.UserAgent,
		token.DeviceID,
		token.CreatedAt,
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

// RefreshTokenByID находит запись по jti.
func (s *Storage) RefreshTokenByID(ctx context.Context, id uuid.UUID) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByID"

	query := `
		SELECT id, user_id, expires_at,
			is_active, revoked, revoked_at, revoked_reason,
			ip, user_agent, device_id, created_at
		FROM refresh_tokens
		WHERE id = $1
	`

	var token models.RefreshToken
	err := s.db.QueryRow(ctx, query, id).Scan(
		&token.ID,
		&token.UserID,
		&token.ExpiresAt,
		&token.IsActive,
		&token.Revoked,
		&token.RevokedAt,
		&token.RevokedReason,
		&token.IP,
		&token.UserAgent,
		&token.DeviceID,
		&token.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// RevokeRefreshToken пытается отозвать запись, если она ещё не отозвана.
// Переход одностороннний: уже отозванная запись сохраняет первую причину.
// Возвращает:
//
//	(true, nil)  — запись была активна и успешно отозвана сейчас;
//	(false, nil) — запись существует, но уже была отозвана;
//	(false, ErrNotFound) — запись не найдена.
func (s *Storage) RevokeRefreshToken(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	const op = "storage.postgres.RevokeRefreshToken"

	const upd = `
		UPDATE refresh_tokens
		SET revoked = TRUE, is_active = FALSE, revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND revoked = FALSE
		RETURNING user_id
	`

	var userID uuid.UUID
	err := s.db.QueryRow(ctx, upd, id, time.Now().UTC(), reason).Scan(&userID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	const sel = `
		SELECT revoked
		FROM refresh_tokens
		WHERE id = $1
	`

	var revoked bool
	err = s.db.QueryRow(ctx, sel, id).Scan(&revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// RevokeAllRefreshTokens отзывает все активные записи пользователя.
func (s *Storage) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	const op = "storage.postgres.RevokeAllRefreshTokens"

	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, is_active = FALSE, revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND revoked = FALSE AND is_active = TRUE
	`

	cmdTag, err := s.db.Exec(ctx, query, userID, time.Now().UTC(), reason)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}

// RevokeExpiredTokens помечает отозванными все неотозванные записи
// с истёкшим сроком. Записи не удаляются: след остаётся для аудита.
func (s *Storage) RevokeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.RevokeExpiredTokens"

	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, is_active = FALSE, revoked_at = $1, revoked_reason = 'expired'
		WHERE revoked = FALSE AND expires_at <= $1
	`

	cmdTag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}

// ActiveRefreshTokensByUser возвращает действующие записи пользователя
// в порядке создания.
func (s *Storage) ActiveRefreshTokensByUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "storage.postgres.ActiveRefreshTokensByUser"

	query := `
		SELECT id, user_id, expires_at,
			is_active, revoked, revoked_at, revoked_reason,
			ip, user_agent, device_id, created_at
		FROM refresh_tokens
		WHERE user_id = $1 AND is_active = TRUE AND revoked = FALSE AND expires_at > $2
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tokens []models.RefreshToken
	for rows.Next() {
		var token models.RefreshToken
		if err := rows.Scan(
			&token.ID,
			&token.UserID,
			&token.ExpiresAt,
			&token.IsActive,
			&token.Revoked,
			&token.RevokedAt,
			&token.RevokedReason,
			&token.IP,
			&token.UserAgent,
			&token.DeviceID,
			&token.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tokens, nil
}

package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/pkg/log"
	"github.com/anubhavg-icpl/grantha-sub000/internal/pkg/redact"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/google/uuid"
)

// RequestEmailVerification выпускает токен подтверждения e-mail.
// Доставка токена пользователю — вне этой подсистемы: токен возвращается
// вызывающему слою.
func (s *Service) RequestEmailVerification(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "service.verification.RequestEmailVerification"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	if user.Email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	user.VerificationToken = token
	user.VerificationSentAt = &now

	if err := s.storage.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// VerifyEmail подтверждает e-mail по токену.
// Токен одноразовый и действует в пределах настроенного окна.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	const op = "service.verification.VerifyEmail"

	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrVerificationInvalid)
	}

	user, err := s.storage.UserByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrVerificationInvalid)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	if user.VerificationSentAt == nil || now.Sub(*user.VerificationSentAt) > s.security.VerificationTTL {
		return fmt.Errorf("%s: %w", op, ErrVerificationInvalid)
	}

	user.IsVerified = true
	user.VerificationToken = ""
	user.VerificationSentAt = nil

	if err := s.storage.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:    models.AuditEmailVerification,
		UserID:  &user.ID,
		Success: true,
	})

	return nil
}

// RequestPasswordReset выпускает токен сброса пароля по логину или email.
// Ответ одинаков для существующих и несуществующих учётных записей:
// наружная сторона не может перечислять пользователей. Для существующих
// токен возвращается вызывающему слою (доставка — вне подсистемы).
func (s *Service) RequestPasswordReset(ctx context.Context, login string) (string, error) {
	const op = "service.verification.RequestPasswordReset"

	lg := log.From(ctx)

	user, err := s.lookupByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("password_reset_unknown_login",
				slog.String("op", op),
				slog.String("login", redact.Login(login)),
			)
			return "", nil
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	expires := time.Now().UTC().Add(s.security.ResetTTL)
	user.ResetToken = token
	user.ResetTokenExpiresAt = &expires

	if err := s.storage.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// ResetPassword завершает сброс пароля по токену.
// Все refresh-токены пользователя отзываются: чужая сессия не переживает
// сброс пароля.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "service.verification.ResetPassword"

	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrResetInvalid)
	}

	user, err := s.storage.UserByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrResetInvalid)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	if user.ResetTokenExpiresAt == nil || !now.Before(*user.ResetTokenExpiresAt) {
		return fmt.Errorf("%s: %w", op, ErrResetInvalid)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user.ResetToken = ""
	user.ResetTokenExpiresAt = nil
	if err := s.storage.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := s.revokeAllSessions(ctx, user.ID, "password_reset")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:    models.AuditPasswordReset,
		UserID:  &user.ID,
		Success: true,
		Metadata: map[string]string{
			"revoked_sessions": fmt.Sprintf("%d", revoked),
		},
	})

	return nil
}

// randomToken генерирует непрозрачный одноразовый токен (32 байта, base64url).
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

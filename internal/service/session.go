package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/cache"
	"github.com/anubhavg-icpl/grantha-sub000/internal/metrics"
	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/pkg/log"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/google/uuid"
)

// Refresh выпускает новый access-токен по действительному refresh-токену.
//
// Реестр авторитетнее собственного срока подписанного токена: отозванная,
// но ещё не истёкшая запись отклоняется. Сам refresh-токен и его запись
// при этом не изменяются — ротации на каждый refresh нет, несколько
// конкурентных refresh по одному токену могут успешно завершиться.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, time.Time, *models.User, error) {
	const op = "service.session.Refresh"

	lg := log.From(ctx)

	c, err := s.verifyToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		lg.Warn("refresh_verify_failed", slog.String("op", op))
		return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	uid, err := uuid.Parse(c.UserID)
	if err != nil {
		return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	jti, err := uuid.Parse(c.ID)
	if err != nil {
		return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := s.storage.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		lg.Warn("refresh_user_inactive",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
		)
		return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if err := s.validateRefreshRecord(ctx, jti); err != nil {
		return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	accessToken, _, err := s.mintToken(user, tokenTypeAccess, s.cfg.AccessTokenTTL, jti, now)
	if err != nil {
		return "", time.Time{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:      models.AuditTokenRefresh,
		UserID:    &user.ID,
		Success:   true,
		SessionID: &jti,
	})

	return accessToken, now.Add(s.cfg.AccessTokenTTL), user, nil
}

// LogoutParams — входные данные logout.
// UserID заполняется транспортом из проверенного access-токена, если он был
// предъявлен; RefreshToken и RevokeAll приходят из тела запроса.
type LogoutParams struct {
	UserID       *uuid.UUID
	RefreshToken string
	RevokeAll    bool
	Origin       models.Origin
}

// Logout отзывает предъявленный refresh-токен и, по флагу, все сессии
// пользователя. Операция безопасна при частично невалидном входе: jti
// читается из клеймов без проверки подписи (истёкший токен остаётся
// отзываемым), несуществующие записи не считаются ошибкой, результат —
// всегда число фактически отозванных записей.
func (s *Service) Logout(ctx context.Context, params LogoutParams) (int64, error) {
	const op = "service.session.Logout"

	lg := log.From(ctx)

	var (
		count     int64
		userID    = params.UserID
		sessionID *uuid.UUID
	)

	if params.RefreshToken != "" {
		c, err := unverifiedClaims(params.RefreshToken)
		if err != nil {
			lg.Warn("logout_unparsable_refresh", slog.String("op", op))
		} else if c.TokenType == tokenTypeRefresh {
			if jti, err := uuid.Parse(c.ID); err == nil {
				revoked, err := s.storage.RevokeRefreshToken(ctx, jti, "logout")
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return 0, fmt.Errorf("%s: %w", op, err)
				}
				if revoked {
					count++
					metrics.SessionsRevoked.WithLabelValues("logout").Inc()
					s.markRevokedInCache(ctx, jti)
				}
				sessionID = &jti
			}

			if userID == nil {
				if uid, err := uuid.Parse(c.UserID); err == nil {
					userID = &uid
				}
			}
		}
	}

	if params.RevokeAll && userID != nil {
		revoked, err := s.revokeAllSessions(ctx, *userID, "logout_all")
		if err != nil {
			return count, fmt.Errorf("%s: %w", op, err)
		}
		count += revoked
	}

	s.audit(ctx, &models.AuditEvent{
		Type:      models.AuditLogout,
		UserID:    userID,
		Success:   true,
		IP:        params.Origin.IP,
		UserAgent: params.Origin.UserAgent,
		DeviceID:  params.Origin.DeviceID,
		SessionID: sessionID,
		Metadata: map[string]string{
			"revoked_count": strconv.FormatInt(count, 10),
			"revoke_all":    strconv.FormatBool(params.RevokeAll),
		},
	})

	return count, nil
}

// Sessions возвращает действующие сессии пользователя.
// currentSession — jti сессии вызывающего (uuid.Nil, если неизвестен);
// совпавшая запись помечается Current.
func (s *Service) Sessions(ctx context.Context, userID uuid.UUID, currentSession uuid.UUID) ([]models.Session, error) {
	const op = "service.session.Sessions"

	tokens, err := s.storage.ActiveRefreshTokensByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sessions := make([]models.Session, 0, len(tokens))
	for i := range tokens {
		session := models.SessionFromRefreshToken(&tokens[i])
		session.Current = currentSession != uuid.Nil && session.ID == currentSession
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// RevokeSession отзывает одну сессию пользователя.
// Несуществующая запись и запись чужого пользователя неразличимы для
// вызывающего: обе дают ErrSessionNotFound.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID, reason string) error {
	const op = "service.session.RevokeSession"

	record, err := s.storage.RefreshTokenByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if record.UserID != userID {
		return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}

	if reason == "" {
		reason = "revoked_by_user"
	}

	revoked, err := s.storage.RevokeRefreshToken(ctx, sessionID, reason)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	if revoked {
		metrics.SessionsRevoked.WithLabelValues(reason).Inc()
		s.markRevokedInCache(ctx, sessionID)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:      models.AuditSessionRevoked,
		UserID:    &userID,
		Success:   true,
		Reason:    reason,
		SessionID: &sessionID,
	})

	return nil
}

// SweepExpiredSessions отзывает истёкшие записи реестра (reason="expired").
// Гигиеническая операция для janitor-горутины: на корректность проверки
// действительности токенов не влияет, но держит список активных сессий
// точным и ограничивает объём сканируемых записей.
func (s *Service) SweepExpiredSessions(ctx context.Context) (int64, error) {
	const op = "service.session.SweepExpiredSessions"

	count, err := s.storage.RevokeExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if count > 0 {
		metrics.SessionsRevoked.WithLabelValues("expired").Add(float64(count))
	}

	return count, nil
}

// validateRefreshRecord проверяет запись реестра по jti: сперва кэш,
// затем хранилище. Ошибки кэша не фатальны — источником истины остаётся
// реестр.
func (s *Service) validateRefreshRecord(ctx context.Context, jti uuid.UUID) error {
	const op = "service.session.validateRefreshRecord"

	lg := log.From(ctx)
	now := time.Now().UTC()

	if s.rcache != nil {
		entry, ok, err := s.rcache.Get(ctx, jti)
		if err != nil {
			lg.Warn("refresh_cache_get_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		} else if ok {
			if entry.Revoked {
				return fmt.Errorf("%s: %w", op, ErrTokenRevoked)
			}
			if !now.Before(entry.ExpiresAt) {
				return fmt.Errorf("%s: %w", op, ErrTokenExpired)
			}

			return nil
		}
	}

	record, err := s.storage.RefreshTokenByID(ctx, jti)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_record_not_found", slog.String("op", op))
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if record.Revoked || !record.IsActive {
		lg.Warn("refresh_record_revoked",
			slog.String("op", op),
			slog.String("user_id", record.UserID.String()),
		)
		return fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	if !now.Before(record.ExpiresAt) {
		lg.Warn("refresh_record_expired",
			slog.String("op", op),
			slog.String("user_id", record.UserID.String()),
		)
		return fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	s.cacheRefreshEntry(ctx, record)

	return nil
}

// revokeAllSessions отзывает все активные записи пользователя и
// инвалидирует кэш по затронутым jti.
func (s *Service) revokeAllSessions(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	const op = "service.session.revokeAllSessions"

	var jtis []uuid.UUID
	if s.rcache != nil {
		// Список активных jti нужен до массового отзыва: после него
		// записи перестанут быть активными.
		tokens, err := s.storage.ActiveRefreshTokensByUser(ctx, userID)
		if err == nil {
			for i := range tokens {
				jtis = append(jtis, tokens[i].ID)
			}
		}
	}

	count, err := s.storage.RevokeAllRefreshTokens(ctx, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if count > 0 {
		metrics.SessionsRevoked.WithLabelValues(reason).Add(float64(count))
	}

	if s.rcache != nil && len(jtis) > 0 {
		if err := s.rcache.MarkRevokedAll(ctx, jtis); err != nil {
			log.From(ctx).Warn("refresh_cache_revoke_all_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
	}

	return count, nil
}

// cacheRefreshEntry кладёт состояние записи в кэш с остаточным TTL.
func (s *Service) cacheRefreshEntry(ctx context.Context, record *models.RefreshToken) {
	const op = "service.session.cacheRefreshEntry"

	if s.rcache == nil {
		return
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return
	}

	entry := &cache.RefreshEntry{
		UserID:    record.UserID,
		Revoked:   record.Revoked,
		ExpiresAt: record.ExpiresAt,
	}

	if err := s.rcache.Set(ctx, record.ID, entry, ttl); err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
}

// markRevokedInCache помечает jti отозванным в кэше.
func (s *Service) markRevokedInCache(ctx context.Context, jti uuid.UUID) {
	const op = "service.session.markRevokedInCache"

	if s.rcache == nil {
		return
	}

	if err := s.rcache.MarkRevoked(ctx, jti); err != nil {
		log.From(ctx).Warn("refresh_cache_revoke_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
}

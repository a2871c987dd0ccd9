package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/metrics"
	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/pkg/log"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Типы токенов в клейме token_type. Access и refresh никогда не взаимозаменяемы:
// проверка отвергает токен, чей тип не совпадает с ожидаемым использованием.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// claims — клеймы подписанных токенов сервиса.
// jti (RegisteredClaims.ID) связывает refresh-токен с записью реестра;
// sid в access-токене указывает на сессию (запись реестра), в рамках
// которой он выпущен, и позволяет отметить текущую сессию в /sessions.
type claims struct {
	UserID    string `json:"uid"`
	Username  string `json:"username"`
	TokenType string `json:"token_type"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// signingMethod возвращает сконфигурированный алгоритм подписи.
// Конфигурация валидируется при загрузке; неизвестное значение здесь —
// программная ошибка, поэтому fallback безопасный: HS256.
func (s *Service) signingMethod() jwt.SigningMethod {
	switch s.cfg.JWTAlgorithm {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// mintToken выпускает подписанный токен с новым jti.
// Операция чистая: без I/O и без обращения к хранилищу.
func (s *Service) mintToken(user *models.User, tokenType string, ttl time.Duration, sessionID uuid.UUID, now time.Time) (string, uuid.UUID, error) {
	const op = "service.token.mintToken"

	jti := uuid.New()

	c := claims{
		UserID:    user.ID.String(),
		Username:  user.Username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}
	if sessionID != uuid.Nil {
		c.SessionID = sessionID.String()
	}

	token := jwt.NewWithClaims(s.signingMethod(), c)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.TokensIssued.WithLabelValues(tokenType).Inc()

	return signed, jti, nil
}

// verifyToken проверяет подпись, срок и тип токена и возвращает клеймы.
// Допустим только сконфигурированный алгоритм: токен, объявивший "none"
// или любой другой метод, отвергается независимо от содержимого.
func (s *Service) verifyToken(raw, expectedType string) (*claims, error) {
	const op = "service.token.verifyToken"

	method := s.signingMethod()

	token, err := jwt.ParseWithClaims(raw, &claims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != method {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if c.TokenType != expectedType {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenTypeMismatch)
	}

	return c, nil
}

// unverifiedClaims читает клеймы без проверки подписи и срока.
// Используется только в logout: refresh-токен с уже истёкшей подписью
// всё равно должен быть отзываемым по своему jti.
func unverifiedClaims(raw string) (*claims, error) {
	const op = "service.token.unverifiedClaims"

	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &c, nil
}

// ValidateAccessToken проверяет access-токен и возвращает пользователя
// вместе с идентификатором сессии выпуска (uuid.Nil, если клейм отсутствует).
// Пользователь должен существовать и быть активным.
func (s *Service) ValidateAccessToken(ctx context.Context, raw string) (*models.User, uuid.UUID, error) {
	const op = "service.token.ValidateAccessToken"

	c, err := s.verifyToken(raw, tokenTypeAccess)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	uid, err := uuid.Parse(c.UserID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := s.storage.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	sid := uuid.Nil
	if c.SessionID != "" {
		if parsed, err := uuid.Parse(c.SessionID); err == nil {
			sid = parsed
		}
	}

	return user, sid, nil
}

// issueTokenPair выпускает пару access+refresh и регистрирует refresh-токен
// в реестре вместе с контекстом выдачи. Коллизия jti практически недостижима,
// но обрабатывается ретраем, а не предполагается невозможной.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User, origin models.Origin) (*models.TokenPair, uuid.UUID, error) {
	const (
		op          = "service.token.issueTokenPair"
		maxAttempts = 5
	)

	lg := log.From(ctx)
	now := time.Now().UTC()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		refreshToken, jti, err := s.mintToken(user, tokenTypeRefresh, s.cfg.RefreshTokenTTL, uuid.Nil, now)
		if err != nil {
			lg.Error("refresh_token_sign_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		record := &models.RefreshToken{
			ID:        jti,
			UserID:    user.ID,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
			IsActive:  true,
			IP:        origin.IP,
			UserAgent: origin.UserAgent,
			DeviceID:  origin.DeviceID,
			CreatedAt: now,
		}

		if err := s.storage.SaveRefreshToken(ctx, record); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Коллизия jti — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		accessToken, _, err := s.mintToken(user, tokenTypeAccess, s.cfg.AccessTokenTTL, jti, now)
		if err != nil {
			lg.Error("access_token_sign_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		s.cacheRefreshEntry(ctx, record)

		return &models.TokenPair{
			AccessToken:     accessToken,
			RefreshToken:    refreshToken,
			AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		}, jti, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/anubhavg-icpl/grantha-sub000/internal/metrics"
	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/pkg/log"
	"github.com/anubhavg-icpl/grantha-sub000/internal/pkg/redact"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// dummyPasswordHash — фиксированный bcrypt-хэш для выравнивания стоимости
// неуспешного входа: при неизвестном логине выполняется такое же сравнение,
// как при известном, чтобы существование учётной записи не было различимо
// по времени ответа.
var dummyPasswordHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("dummy-timing-equalizer"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// RegisterParams — входные данные регистрации.
type RegisterParams struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Bio         string
}

// RegisterUser регистрирует нового пользователя.
// Пароль хэшируется до сохранения; дубликаты имени/email дают Conflict
// как при предварительной проверке, так и при гонке на уникальном индексе.
func (s *Service) RegisterUser(ctx context.Context, params RegisterParams, origin models.Origin) (*models.User, error) {
	const op = "service.auth.RegisterUser"

	username, err := validateUsername(params.Username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var email string
	if params.Email != "" {
		email, err = validateEmail(params.Email)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
		}
	}

	if err := validatePassword(params.Password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.storage.UserByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if email != "" {
		if _, err := s.storage.UserByEmail(ctx, email); err == nil {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	hashedPassword, err := hashPassword(params.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		IsActive:     true,
		DisplayName:  params.DisplayName,
		Bio:          params.Bio,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:      models.AuditRegistration,
		UserID:    &user.ID,
		Success:   true,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
		DeviceID:  origin.DeviceID,
	})

	return user, nil
}

// Login выполняет вход по имени пользователя (или email) и паролю.
//
// Каждая попытка — найден/не найден, заблокирован, неверный пароль, успех —
// порождает ровно одно событие аудита. Наружу все отказы входа маппятся
// в единый 401; различимая причина остаётся в журнале.
func (s *Service) Login(ctx context.Context, login, password string, origin models.Origin) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx)

	if login == "" || password == "" {
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.lookupByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Выравнивание стоимости: сравнение с фиктивным хэшем, чтобы
			// not-found не был быстрее, чем неверный пароль.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(password))

			s.audit(ctx, &models.AuditEvent{
				Type:      models.AuditLogin,
				Success:   false,
				Reason:    "unknown_user",
				IP:        origin.IP,
				UserAgent: origin.UserAgent,
				DeviceID:  origin.DeviceID,
				Metadata:  map[string]string{"login": redact.Login(login)},
			})
			metrics.LoginAttempts.WithLabelValues("unknown_user").Inc()

			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()

	if user.Locked(now) {
		// Пароль при действующей блокировке не проверяется.
		s.audit(ctx, &models.AuditEvent{
			Type:      models.AuditLogin,
			UserID:    &user.ID,
			Success:   false,
			Reason:    "locked",
			IP:        origin.IP,
			UserAgent: origin.UserAgent,
			DeviceID:  origin.DeviceID,
		})
		metrics.LoginAttempts.WithLabelValues("locked").Inc()

		return nil, nil, fmt.Errorf("%s: %w", op, ErrAccountLocked)
	}

	if !user.IsActive {
		s.audit(ctx, &models.AuditEvent{
			Type:      models.AuditLogin,
			UserID:    &user.ID,
			Success:   false,
			Reason:    "inactive",
			IP:        origin.IP,
			UserAgent: origin.UserAgent,
			DeviceID:  origin.DeviceID,
		})
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()

		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !checkPassword(user.PasswordHash, password) {
		// Блокировка выставляется тем же запросом, что и инкремент:
		// один вызов никогда не увеличивает счётчик дважды, а гонка
		// конкурентных неудач может лишь недосчитать.
		var lockedUntil *time.Time
		if user.FailedLoginAttempts+1 >= s.security.LockoutThreshold {
			t := now.Add(s.security.LockoutDuration)
			lockedUntil = &t
		}

		attempts, ferr := s.storage.RecordLoginFailure(ctx, user.ID, lockedUntil)
		if ferr != nil {
			lg.Error("record_login_failure_failed",
				slog.String("op", op),
				slog.String("err", ferr.Error()),
			)
			attempts = user.FailedLoginAttempts + 1
		}

		s.audit(ctx, &models.AuditEvent{
			Type:      models.AuditLogin,
			UserID:    &user.ID,
			Success:   false,
			Reason:    "invalid_password",
			IP:        origin.IP,
			UserAgent: origin.UserAgent,
			DeviceID:  origin.DeviceID,
			Metadata: map[string]string{
				"failed_attempts": strconv.Itoa(attempts),
				"locked":          strconv.FormatBool(lockedUntil != nil),
			},
		})
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()

		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := s.storage.ResetLoginFailures(ctx, user.ID, now); err != nil {
		// Неуспех сброса счётчика не должен ломать вход.
		lg.Warn("reset_login_failures_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	pair, jti, err := s.issueTokenPair(ctx, user, origin)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:      models.AuditLogin,
		UserID:    &user.ID,
		Success:   true,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
		DeviceID:  origin.DeviceID,
		SessionID: &jti,
	})
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	return pair, user, nil
}

// ChangePassword меняет пароль после проверки старого и отзывает все
// refresh-токены пользователя: остальные сессии обязаны пройти вход заново.
// Возвращает число отозванных записей.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) (int64, error) {
	const op = "service.auth.ChangePassword"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, oldPassword) {
		s.audit(ctx, &models.AuditEvent{
			Type:    models.AuditPasswordChange,
			UserID:  &user.ID,
			Success: false,
			Reason:  "invalid_old_password",
		})

		return 0, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := validatePassword(newPassword); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := s.revokeAllSessions(ctx, user.ID, "password_change")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:    models.AuditPasswordChange,
		UserID:  &user.ID,
		Success: true,
		Metadata: map[string]string{
			"revoked_sessions": strconv.FormatInt(revoked, 10),
		},
	})

	return revoked, nil
}

// UpdateProfileParams — изменяемые поля профиля.
// nil означает "не трогать". Привилегии, идентификаторы и таймстемпы
// массовым обновлением не изменяются.
type UpdateProfileParams struct {
	Username    *string
	Email       *string
	DisplayName *string
	Bio         *string
}

// UpdateProfile обновляет профиль пользователя.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, params UpdateProfileParams) (*models.User, error) {
	const op = "service.auth.UpdateProfile"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if params.Username != nil {
		username, err := validateUsername(*params.Username)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		user.Username = username
	}

	if params.Email != nil {
		if *params.Email == "" {
			user.Email = ""
		} else {
			email, err := validateEmail(*params.Email)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
			}
			// Смена адреса сбрасывает подтверждение.
			if email != user.Email {
				user.IsVerified = false
				user.VerificationToken = ""
				user.VerificationSentAt = nil
			}
			user.Email = email
		}
	}

	if params.DisplayName != nil {
		user.DisplayName = *params.DisplayName
	}

	if params.Bio != nil {
		user.Bio = *params.Bio
	}

	if err := s.storage.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, &models.AuditEvent{
		Type:    models.AuditProfileUpdate,
		UserID:  &user.ID,
		Success: true,
	})

	return user, nil
}

// DeactivateUser выключает учётную запись и каскадно отзывает все её
// refresh-токены. Записи не удаляются физически.
func (s *Service) DeactivateUser(ctx context.Context, userID uuid.UUID) error {
	const op = "service.auth.DeactivateUser"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	user.IsActive = false
	if err := s.storage.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.revokeAllSessions(ctx, user.ID, "account_deactivated"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// lookupByLogin находит пользователя по имени, затем по email.
func (s *Service) lookupByLogin(ctx context.Context, login string) (*models.User, error) {
	user, err := s.storage.UserByUsername(ctx, login)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if strings.Contains(login, "@") {
		return s.storage.UserByEmail(ctx, strings.ToLower(login))
	}

	return nil, err
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateUsername проверяет имя пользователя: 3..50 символов, без пробелов.
func validateUsername(raw string) (string, error) {
	const op = "service.auth.validateUsername"

	username := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(username)
	if length < 3 || length > 50 {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidUsername)
	}

	for _, r := range username {
		if unicode.IsSpace(r) {
			return "", fmt.Errorf("%s: %w", op, ErrInvalidUsername)
		}
	}

	return username, nil
}

// validateEmail проверяет базовый формат email и обрезает пробелы снаружи.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword проверяет минимальные требования к паролю.
// Политика по умолчанию: длина >= 8, хотя бы одна строчная, заглавная,
// цифра и спецсимвол.
func validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if utf8.RuneCountInString(pw) < 8 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !(hasLower && hasUpper && hasDigit && hasSpecial) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}

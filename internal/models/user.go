package models

import (
	"time"

	"github.com/google/uuid"
)

// User — учётная запись в системе.
//
// Инварианты:
//   - Username уникален, длина 3..50 символов;
//   - Email (необязательный) уникален и содержит "@";
//   - PasswordHash — bcrypt-хэш, пароль в открытом виде нигде не хранится
//     и не сериализуется;
//   - FailedLoginAttempts сбрасывается в 0 при любой успешной аутентификации.
type User struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string

	IsActive   bool
	IsVerified bool
	IsAdmin    bool

	DisplayName string
	Bio         string

	// FailedLoginAttempts — счётчик подряд неудачных входов.
	FailedLoginAttempts int
	// LockedUntil — момент, до которого вход заблокирован (nil — блокировки нет).
	LockedUntil *time.Time

	// VerificationToken/VerificationSentAt — подтверждение e-mail.
	VerificationToken  string
	VerificationSentAt *time.Time

	// ResetToken/ResetTokenExpiresAt — сброс пароля.
	ResetToken          string
	ResetTokenExpiresAt *time.Time

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Locked сообщает, действует ли сейчас блокировка входа.
// Блокировка истекает сама по сравнению с текущим временем.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// PublicUser — публичное представление пользователя для внешних ответов.
// Никогда не содержит хэш пароля и служебные токены.
type PublicUser struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	IsVerified  bool      `json:"is_verified"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

// Public возвращает публичное представление пользователя.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		IsVerified:  u.IsVerified,
		IsAdmin:     u.IsAdmin,
		CreatedAt:   u.CreatedAt,
	}
}

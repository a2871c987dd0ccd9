package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — персистентная запись о выданном refresh-токене.
//
// ID совпадает с клеймом jti подписанного токена: по нему запись находится
// при обновлении и отзыве. Запись никогда не удаляется физически — отзыв
// (включая отзыв по истечению срока) лишь помечает её, сохраняя след для аудита.
//
// Запись действительна, если IsActive == true, Revoked == false
// и текущее время меньше ExpiresAt. Отозванная запись не может стать
// действительной снова.
type RefreshToken struct {
	ID     uuid.UUID
	UserID uuid.UUID

	ExpiresAt time.Time

	IsActive      bool
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string

	// Контекст выдачи токена.
	IP        string
	UserAgent string
	DeviceID  string

	CreatedAt time.Time
}

// Valid проверяет, действительна ли запись в момент now.
func (t *RefreshToken) Valid(now time.Time) bool {
	return t.IsActive && !t.Revoked && now.Before(t.ExpiresAt)
}

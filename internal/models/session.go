package models

import (
	"time"

	"github.com/google/uuid"
)

// Session — представление активной записи refresh-токена для списка
// "ваши сессии".
//
// Current выставляется по возможности: если обработчик не может сопоставить
// запись с текущим токеном вызывающего, поле остаётся false.
type Session struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Current   bool      `json:"current"`
}

// SessionFromRefreshToken формирует представление сессии из записи реестра.
func SessionFromRefreshToken(t *RefreshToken) Session {
	return Session{
		ID:        t.ID,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
		IP:        t.IP,
		UserAgent: t.UserAgent,
		DeviceID:  t.DeviceID,
	}
}

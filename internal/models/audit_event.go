package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType — тип события безопасности.
type AuditEventType string

const (
	AuditLogin             AuditEventType = "login"
	AuditLogout            AuditEventType = "logout"
	AuditPasswordChange    AuditEventType = "password_change"
	AuditTokenRefresh      AuditEventType = "token_refresh"
	AuditSessionRevoked    AuditEventType = "session_revoked"
	AuditRegistration      AuditEventType = "registration"
	AuditProfileUpdate     AuditEventType = "profile_update"
	AuditEmailVerification AuditEventType = "email_verification"
	AuditPasswordReset     AuditEventType = "password_reset"
)

// AuditEvent — неизменяемая запись о действии, значимом для безопасности.
//
// UserID может отсутствовать: неудачный вход по несуществующему имени
// фиксируется без привязки к учётной записи. CreatedAt проставляется
// один раз при вставке; контракт хранилища не даёт операций обновления
// или удаления событий — неизменяемость обеспечивается на уровне приложения.
type AuditEvent struct {
	ID      uuid.UUID
	Type    AuditEventType
	UserID  *uuid.UUID
	Success bool
	// Reason — код причины отказа (пусто при успехе).
	Reason string

	// Контекст источника запроса.
	IP        string
	UserAgent string
	DeviceID  string

	// Metadata — произвольные дополнительные поля (счётчики, флаги).
	Metadata map[string]string
	// SessionID — связанная запись refresh-токена, если применимо.
	SessionID *uuid.UUID

	CreatedAt time.Time
}

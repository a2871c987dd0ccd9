package handlers

import (
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
)

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// loginResponse отдаёт пару токенов и публичный профиль.
// ExpiresIn — срок жизни access-токена в секундах (для планирования refresh на FE).
type loginResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	TokenType    string            `json:"token_type"`
	ExpiresIn    int64             `json:"expires_in"`
	User         models.PublicUser `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	RevokeAll    bool   `json:"revoke_all,omitempty"`
}

type logoutResponse struct {
	RevokedCount int64 `json:"revoked_count"`
}

type updateProfileRequest struct {
	Username    *string `json:"username,omitempty"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type changePasswordResponse struct {
	RevokedCount int64 `json:"revoked_count"`
}

type sessionsResponse struct {
	Sessions []models.Session `json:"sessions"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type passwordResetRequest struct {
	Login string `json:"login"`
}

type passwordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// auditEventView — транспортное представление события безопасности.
type auditEventView struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func auditEventViewFrom(e models.AuditEvent) auditEventView {
	view := auditEventView{
		ID:        e.ID.String(),
		Type:      string(e.Type),
		Success:   e.Success,
		Reason:    e.Reason,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		DeviceID:  e.DeviceID,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
	if e.SessionID != nil {
		view.SessionID = e.SessionID.String()
	}

	return view
}

type auditEventsResponse struct {
	Events []auditEventView `json:"events"`
}

type statusResponse struct {
	Status string `json:"status"`
}

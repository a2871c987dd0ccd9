package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/anubhavg-icpl/grantha-sub000/internal/service"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/httperr"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/middleware"
)

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	writeJSON(w, http.StatusOK, p.User.Public())
}

func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var in updateProfileRequest
	if err := decodeStrict(r, &in); err != nil {
		httperr.WriteValidation(w, r, "invalid request body")
		return
	}

	user, err := h.Service.UpdateProfile(r.Context(), p.User.ID, service.UpdateProfileParams{
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Bio:         in.Bio,
	})
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

// ChangePassword меняет пароль и отзывает все сессии пользователя.
// Неверный старый пароль здесь — ошибка входных данных (400), а не
// аутентификации: пользователь уже аутентифицирован access-токеном.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var in changePasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		httperr.WriteValidation(w, r, "invalid request body")
		return
	}

	revoked, err := h.Service.ChangePassword(r.Context(), p.User.ID, in.OldPassword, in.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			httperr.WriteValidation(w, r, "old password is incorrect")
			return
		}
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, changePasswordResponse{RevokedCount: revoked})
}

// DeactivateMe деактивирует учётную запись и отзывает все её сессии.
func (h *Handlers) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	if err := h.Service.DeactivateUser(r.Context(), p.User.ID); err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "deactivated"})
}

// MyAuditEvents отдаёт последние события безопасности пользователя.
func (h *Handlers) MyAuditEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			httperr.WriteValidation(w, r, "limit must be in [1, 500]")
			return
		}
		limit = n
	}

	events, err := h.Service.SecurityEvents(r.Context(), p.User.ID, limit)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	views := make([]auditEventView, 0, len(events))
	for _, e := range events {
		views = append(views, auditEventViewFrom(e))
	}

	writeJSON(w, http.StatusOK, auditEventsResponse{Events: views})
}

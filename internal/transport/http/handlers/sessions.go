package handlers

import (
	"net/http"

	"github.com/anubhavg-icpl/grantha-sub000/internal/service"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/httperr"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ListSessions отдаёт активные сессии пользователя. Сессия, в рамках
// которой выпущен предъявленный access-токен, помечается current.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	sessions, err := h.Service.Sessions(r.Context(), p.User.ID, p.SessionID)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}

// RevokeSession отзывает одну сессию пользователя по её идентификатору.
// Чужая сессия неотличима от несуществующей — в обоих случаях 404.
func (h *Handlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httperr.WriteValidation(w, r, "invalid session id")
		return
	}

	if err := h.Service.RevokeSession(r.Context(), p.User.ID, sessionID, ""); err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "revoked"})
}

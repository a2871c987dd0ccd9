package handlers

import (
	"net/http"

	"github.com/anubhavg-icpl/grantha-sub000/internal/service"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/httperr"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/middleware"
)

// RequestEmailVerification выпускает новый verification-токен для
// текущего пользователя. Доставка письма — вне зоны ответственности
// сервиса, поэтому токен возвращается вызывающей стороне.
func (h *Handlers) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	token, err := h.Service.RequestEmailVerification(r.Context(), p.User.ID)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"verification_token": token})
}

func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in verifyEmailRequest
	if err := decodeStrict(r, &in); err != nil || in.Token == "" {
		httperr.WriteValidation(w, r, "token is required")
		return
	}

	if err := h.Service.VerifyEmail(r.Context(), in.Token); err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "verified"})
}

// RequestPasswordReset всегда отвечает 200, существует логин или нет:
// эндпойнт не должен позволять перечислять учётные записи.
func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in passwordResetRequest
	if err := decodeStrict(r, &in); err != nil || in.Login == "" {
		httperr.WriteValidation(w, r, "login is required")
		return
	}

	// Токен наружу не отдаём: тело ответа одинаково для существующего
	// и несуществующего логина. Выпущенный токен заберёт подсистема доставки.
	if _, err := h.Service.RequestPasswordReset(r.Context(), in.Login); err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in passwordResetConfirmRequest
	if err := decodeStrict(r, &in); err != nil || in.Token == "" {
		httperr.WriteValidation(w, r, "token is required")
		return
	}

	if err := h.Service.ResetPassword(r.Context(), in.Token, in.NewPassword); err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "reset"})
}

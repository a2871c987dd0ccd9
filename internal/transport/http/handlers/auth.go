package handlers

import (
	"net/http"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/service"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/httperr"
	"github.com/anubhavg-icpl/grantha-sub000/internal/transport/http/middleware"
)

func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(r, &in); err != nil {
		httperr.WriteValidation(w, r, "invalid request body")
		return
	}

	user, err := h.Service.RegisterUser(r.Context(), service.RegisterParams{
		Username:    in.Username,
		Password:    in.Password,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Bio:         in.Bio,
	}, originFrom(r))
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

func (h *Handlers) LoginUser(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		httperr.WriteValidation(w, r, "invalid request body")
		return
	}

	pair, user, err := h.Service.Login(r.Context(), in.Login, in.Password, originFrom(r))
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(pair.AccessExpiresAt),
		User:         user.Public(),
	})
}

func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(r, &in); err != nil {
		httperr.WriteValidation(w, r, "invalid request body")
		return
	}
	if in.RefreshToken == "" {
		httperr.WriteValidation(w, r, "refresh_token is required")
		return
	}

	access, expiresAt, _, err := h.Service.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn(expiresAt),
	})
}

// Logout принимает refresh-токен в теле и/или Bearer в заголовке.
// Ответ всегда 200 с числом фактически отозванных записей: выход
// не должен падать из-за уже отозванного или истёкшего токена.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeStrict(r, &in); err != nil {
			httperr.WriteValidation(w, r, "invalid request body")
			return
		}
	}

	params := service.LogoutParams{
		RefreshToken: in.RefreshToken,
		RevokeAll:    in.RevokeAll,
		Origin:       originFrom(r),
	}
	if p, ok := middleware.PrincipalFrom(r.Context()); ok {
		id := p.User.ID
		params.UserID = &id
	}

	revoked, err := h.Service.Logout(r.Context(), params)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, logoutResponse{RevokedCount: revoked})
}

// expiresIn — остаток жизни токена в секундах, не меньше нуля.
func expiresIn(expiresAt time.Time) int64 {
	d := time.Until(expiresAt)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// handlers содержит REST-хендлеры сервиса аутентификации.
// Каждый хендлер: строгий разбор входа -> вызов сервисного слоя ->
// унифицированный ответ (writeJSON / httperr.WriteError).
package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/service"
)

// Handlers агрегирует зависимости (сервисный слой).
type Handlers struct {
	Service *service.Service
}

func New(svc *service.Service) *Handlers {
	return &Handlers{Service: svc}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через httperr.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// originFrom собирает метаданные источника запроса для записи сессии
// и аудита. IP берём из X-Real-IP / первого элемента X-Forwarded-For,
// иначе из RemoteAddr без порта.
func originFrom(r *http.Request) models.Origin {
	ip := r.Header.Get("X-Real-IP")
	if ip == "" {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip = strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		}
	}
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}

	return models.Origin{
		IP:        ip,
		UserAgent: r.Header.Get("User-Agent"),
		DeviceID:  r.Header.Get("X-Device-Id"),
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/metrics"
	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/pkg/log"

	"github.com/google/uuid"
)

// audit записывает событие безопасности в журнал.
//
// Сбой записи не прерывает основную операцию: успешный вход обязан вернуть
// токены, даже если журнал недоступен. Сбой логируется и учитывается
// в метриках для операционного мониторинга. Запись выполняется вне
// контекста отмены вызывающего: событие уже произошло.
func (s *Service) audit(ctx context.Context, event *models.AuditEvent) {
	const op = "service.audit"

	event.ID = uuid.New()
	event.CreatedAt = time.Now().UTC()

	if err := s.storage.SaveAuditEvent(context.WithoutCancel(ctx), event); err != nil {
		metrics.AuditWriteFailures.Inc()
		log.From(ctx).Warn("audit_write_failed",
			slog.String("op", op),
			slog.String("event_type", string(event.Type)),
			slog.String("err", err.Error()),
		)
	}
}

// SecurityEvents возвращает последние события безопасности пользователя.
func (s *Service) SecurityEvents(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	const op = "service.audit.SecurityEvents"

	events, err := s.storage.AuditEventsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return events, nil
}

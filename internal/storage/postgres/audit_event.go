package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveAuditEvent добавляет событие безопасности в журнал.
// Обновления и удаления контрактом не предусмотрены: запись неизменяема.
func (s *Storage) SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	const op = "storage.postgres.SaveAuditEvent"

	var metadata []byte
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		metadata = b
	}

	query := `
		INSERT INTO audit_events(
			id, event_type, user_id, success, reason,
			ip, user_agent, device_id, metadata, session_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.UserID,
		event.Success,
		event.Reason,
		event.IP,
		event.UserAgent,
		event.DeviceID,
		metadata,
		event.SessionID,
		event.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// AuditEventsByUser возвращает последние события пользователя.
func (s *Storage) AuditEventsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	const op = "storage.postgres.AuditEventsByUser"

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, event_type, user_id, success, reason,
			ip, user_agent, device_id, metadata, session_id, created_at
		FROM audit_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			event     models.AuditEvent
			eventType string
			metadata  []byte
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.UserID,
			&event.Success,
			&event.Reason,
			&event.IP,
			&event.UserAgent,
			&event.DeviceID,
			&metadata,
			&event.SessionID,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		event.Type = models.AuditEventType(eventType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return events, nil
}

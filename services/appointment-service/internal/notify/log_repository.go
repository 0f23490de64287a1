package notify

import (
	"context"

	"github.com/barberhq/citaflow/libs/db"
)

// LogRepository records every notification attempt and answers dedup
// queries keyed (event_type, appointment_id, channel).
type LogRepository struct {
	pool *db.Pool
}

func NewLogRepository(pool *db.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// AlreadySent reports whether a notification for this (event, appointment,
// channel) key was already delivered, so retried transitions do not send
// the same push twice.
func (r *LogRepository) AlreadySent(ctx context.Context, eventType, appointmentID, channel string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM notification_log
			WHERE event_type = $1 AND appointment_id = $2 AND channel = $3 AND status = 'sent'
		)
	`, eventType, appointmentID, channel).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *LogRepository) Record(ctx context.Context, eventType, appointmentID, channel, status string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_log (event_type, appointment_id, channel, status)
		VALUES ($1, $2, $3, $4)
	`, eventType, appointmentID, channel, status)
	return err
}

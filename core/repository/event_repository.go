package repository

import (
	"context"

	"foqus-orchestrator/core/models"

	"github.com/pkg/errors"
)

// EventRepository keeps the audit log of mirrored events in Postgres
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// AppendEvent stores one mirrored event
func (r *EventRepository) AppendEvent(ctx context.Context, ev models.EventRecord) error {
	query := `
		INSERT INTO foqus_events (job_id, session_id, user_name, name, body, at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`
	_, err := r.db.ExecContext(ctx, query, ev.JobID, ev.Session, ev.User, ev.Name, string(ev.Body), ev.At)
	return errors.Wrapf(err, "append event %s", ev.Name)
}

// GetJobEvents retrieves the most recent events for a job, newest first
func (r *EventRepository) GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.EventRecord, error) {
	query := `
		SELECT id, job_id, session_id, user_name, name, body, at
		FROM foqus_events
		WHERE job_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "query events of job %s", jobID)
	}
	defer rows.Close()

	var events []models.EventRecord
	for rows.Next() {
		var ev models.EventRecord
		var body []byte
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Session, &ev.User, &ev.Name, &body, &ev.At); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		ev.Body = body
		events = append(events, ev)
	}
	return events, errors.Wrap(rows.Err(), "iterate events")
}

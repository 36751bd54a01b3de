package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tunespace/core/models"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordEvent stores a job transition event
func (r *EventRepository) RecordEvent(ctx context.Context, ev models.JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, at, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var fromStatus *string
	if ev.FromStatus != nil {
		s := string(*ev.FromStatus)
		fromStatus = &s
	}

	metaJSON := []byte("{}")
	if len(ev.Meta) > 0 {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return fmt.Errorf("encoding event meta: %w", err)
		}
		metaJSON = b
	}

	if _, err := r.db.ExecContext(ctx, query, ev.JobID, ev.At, fromStatus, string(ev.ToStatus), ev.Reason, string(metaJSON)); err != nil {
		return fmt.Errorf("inserting job event: %w", err)
	}
	return nil
}

// GetJobEvents retrieves the latest events for a job, oldest first
func (r *EventRepository) GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, job_id, at, from_status, to_status, reason, meta_json
		FROM (
			SELECT id, job_id, at, from_status, to_status, reason, meta_json
			FROM job_events
			WHERE job_id = $1
			ORDER BY at DESC, id DESC
			LIMIT $2
		) latest
		ORDER BY at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying job events: %w", err)
	}
	defer rows.Close()

	events := []models.JobEvent{}
	for rows.Next() {
		var event models.JobEvent
		var fromStatus sql.NullString
		var toStatus string
		var metaJSON []byte

		if err := rows.Scan(
			&event.ID,
			&event.JobID,
			&event.At,
			&fromStatus,
			&toStatus,
			&event.Reason,
			&metaJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning job event: %w", err)
		}
		event.ToStatus = models.JobStatus(toStatus)

		if fromStatus.Valid {
			status := models.JobStatus(fromStatus.String)
			event.FromStatus = &status
		}

		if len(metaJSON) > 0 && string(metaJSON) != "{}" {
			if err := json.Unmarshal(metaJSON, &event.Meta); err != nil {
				return nil, fmt.Errorf("decoding event meta: %w", err)
			}
		}

		events = append(events, event)
	}
	return events, rows.Err()
}

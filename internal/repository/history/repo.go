package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/stagefox/rockstar-booth/internal/model"
)

// Repository archives generation events in the database. The archive
// feeds the per-session history endpoint; live item state never lives
// here, it stays in the session store.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// SaveEvent inserts one terminal-status event and returns its row UUID.
func (r *Repository) SaveEvent(ctx context.Context, ev model.GenerationEvent) (uuid.UUID, error) {
	query := `
		INSERT INTO generation_events (session_id, guitar, status, result_path, error_message, duration_ms, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
   `

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query, ev.SessionID, ev.Key, string(ev.Status), ev.ResultPath, ev.ErrMessage, ev.Duration, ev.OccurredAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save: failed to save event: %w", err)
	}

	return id, nil
}

// ListBySession returns all archived events for a session, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.GenerationEvent, error) {
	query := `
		SELECT session_id, guitar, status, result_path, error_message, duration_ms, occurred_at
		FROM generation_events
		WHERE session_id = $1
		ORDER BY occurred_at
    `

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.GenerationEvent
	for rows.Next() {
		var ev model.GenerationEvent
		var status string
		if err := rows.Scan(&ev.SessionID, &ev.Key, &status, &ev.ResultPath, &ev.ErrMessage, &ev.Duration, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("list: failed to scan event: %w", err)
		}
		ev.Status = model.ItemStatus(status)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: rows error: %w", err)
	}

	return events, nil
}

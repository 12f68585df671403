package billing

import (
	"context"
	"database/sql"
	"fmt"
)

// Ledger records processed provider event ids so redelivered events with
// non-idempotent effects (add-on credits) are applied at most once.
type Ledger interface {
	// MarkProcessed records the event id. Returns false when the id was
	// already recorded.
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// PostgresLedger implements Ledger on a webhook_events table with a unique
// event id constraint.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new PostgresLedger
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// MarkProcessed inserts the event id; a conflict means a duplicate delivery.
func (l *PostgresLedger) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := l.db.ExecContext(ctx, query, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

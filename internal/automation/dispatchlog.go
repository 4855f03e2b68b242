package automation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresDispatchLog writes one automation_runs row per published action.
type PostgresDispatchLog struct {
	db *sql.DB
}

func NewPostgresDispatchLog(db *sql.DB) *PostgresDispatchLog {
	return &PostgresDispatchLog{db: db}
}

func (l *PostgresDispatchLog) Record(ctx context.Context, rec DispatchRecord) error {
	query := `
		INSERT INTO automation_runs (id, rule_id, rule_name, coach_id, event_name, entity_id, action_type, mode, delay_ms, dispatched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var entityID *string
	if rec.EntityID != "" {
		entityID = &rec.EntityID
	}

	_, err := l.db.ExecContext(ctx, query,
		uuid.New().String(), rec.RuleID, rec.RuleName, rec.CoachID,
		rec.EventName, entityID, rec.ActionType, rec.Mode,
		rec.Delay.Milliseconds(), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to write dispatch log: %w", err)
	}

	return nil
}

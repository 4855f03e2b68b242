package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
	AuditActionToggle = "toggle"
)

type AuditLogger struct {
	db *sql.DB
}

func NewAuditLogger(db *sql.DB) *AuditLogger {
	return &AuditLogger{db: db}
}

func (a *AuditLogger) LogRuleChange(ctx context.Context, entry AuditLogEntry) error {
	query := `
		INSERT INTO automation_rule_audit_logs (id, rule_id, action, old_value, new_value, changed_by, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}

	oldValue, err := jsonOrNull(entry.OldValue)
	if err != nil {
		return fmt.Errorf("failed to encode old value: %w", err)
	}
	newValue, err := jsonOrNull(entry.NewValue)
	if err != nil {
		return fmt.Errorf("failed to encode new value: %w", err)
	}

	var ipAddress *string
	if entry.IPAddress != "" {
		ipAddress = &entry.IPAddress
	}

	changedBy := entry.ChangedBy
	if changedBy == "" {
		changedBy = "system"
	}

	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	if _, err := a.db.ExecContext(ctx, query,
		id, entry.RuleID, entry.Action, oldValue, newValue, changedBy, ipAddress, timestamp,
	); err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}

	return nil
}

func (a *AuditLogger) ListAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditLog, error) {
	query := `
		SELECT id, rule_id, action, old_value, new_value, changed_by, ip_address, timestamp
		FROM automation_rule_audit_logs
		WHERE rule_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := a.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var (
			log                AuditLog
			oldValue, newValue []byte
			ipAddress          sql.NullString
		)
		if err := rows.Scan(&log.ID, &log.RuleID, &log.Action, &oldValue, &newValue, &log.ChangedBy, &ipAddress, &log.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(oldValue) > 0 {
			_ = json.Unmarshal(oldValue, &log.OldValue)
		}
		if len(newValue) > 0 {
			_ = json.Unmarshal(newValue, &log.NewValue)
		}
		log.IPAddress = ipAddress.String
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

type AuditLogEntry struct {
	ID        string
	RuleID    string
	Action    string
	OldValue  interface{}
	NewValue  interface{}
	ChangedBy string
	IPAddress string
	Timestamp time.Time
}

// jsonOrNull encodes v for a JSONB column. lib/pq sends []byte as bytea,
// so the document goes over as text.
func jsonOrNull(v interface{}) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

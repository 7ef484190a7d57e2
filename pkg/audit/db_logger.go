package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// likeEscaper escapes LIKE metacharacters in stored org paths. Segment
// IDs may contain underscores, which LIKE treats as a wildcard.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DBLogger writes audit events to the audit_events table. The table is
// created by the schema migrations, not here.
type DBLogger struct {
	pool postgres.Pool
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(pool postgres.Pool) *DBLogger {
	return &DBLogger{pool: pool}
}

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	detail := []byte("{}")
	if event.Detail != nil {
		var err error
		detail, err = json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal detail: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (actor_id, action, target, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := l.pool.Primary().QueryRowContext(ctx, query,
		event.ActorID, event.Action, event.Target, event.Outcome, detail, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Close is a no-op; the connection pool is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

// Search returns events matching the filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT id, actor_id, action, target, outcome, detail, created_at
		FROM audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	argPos := 1

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argPos)
		args = append(args, filter.ActorID)
		argPos++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argPos)
		args = append(args, filter.Action)
		argPos++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(" AND outcome = $%d", argPos)
		args = append(args, filter.Outcome)
		argPos++
	}
	if filter.Target != "" {
		query += fmt.Sprintf(" AND target = $%d", argPos)
		args = append(args, filter.Target)
		argPos++
	}
	if filter.OrgPath != "" {
		query += fmt.Sprintf(
			" AND (target = $%d OR target LIKE $%d OR detail->>'org_path' = $%d OR detail->>'org_path' LIKE $%d)",
			argPos, argPos+1, argPos, argPos+1)
		args = append(args, filter.OrgPath.String(), likeEscaper.Replace(filter.OrgPath.String())+"/%")
		argPos += 2
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *filter.Since)
		argPos++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argPos)
		args = append(args, *filter.Until)
		argPos++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, limit)
	argPos++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Offset)
	}

	rows, err := l.pool.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var event Event
		var detail []byte
		if err := rows.Scan(
			&event.ID, &event.ActorID, &event.Action, &event.Target,
			&event.Outcome, &detail, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
			}
		}
		events = append(events, &event)
	}

	return events, rows.Err()
}

// Purge deletes events created before the cutoff and returns the count
// removed. Called by the reconciler's retention job.
func (l *DBLogger) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.pool.Primary().ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}

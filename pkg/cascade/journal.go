package cascade

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// Kind is the cascade operation type.
type Kind string

const (
	KindMove       Kind = "move"
	KindDeactivate Kind = "deactivate"
)

// Status tracks how far a cascade has progressed. Moves walk
// validating, rewriting, cascading, done; deactivations walk
// deactivating, cascaded. Done and cascaded are terminal.
type Status string

const (
	StatusValidating   Status = "validating"
	StatusRewriting    Status = "rewriting"
	StatusCascading    Status = "cascading"
	StatusDone         Status = "done"
	StatusDeactivating Status = "deactivating"
	StatusCascaded     Status = "cascaded"
)

// Terminal reports whether the status marks a completed cascade.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCascaded
}

// Entry is one journaled cascade. The entry is committed before any
// tree row is touched, so a crash mid-cascade always leaves a
// non-terminal entry behind for the reconciler to finish.
type Entry struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	RootPath    hierarchy.Path `json:"root_path"`
	NewPath     hierarchy.Path `json:"new_path,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// JournalStore persists cascade journal entries.
type JournalStore struct {
	pool postgres.Pool
}

// NewJournalStore creates a journal store.
func NewJournalStore(pool postgres.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Create inserts the entry, assigning an ID when the caller left it
// empty. The insert commits on its own, ahead of the cascade's writes.
func (s *JournalStore) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	var newPath sql.NullString
	if entry.NewPath != "" {
		newPath = sql.NullString{String: entry.NewPath.String(), Valid: true}
	}

	query := `
		INSERT INTO cascade_journal (id, kind, root_path, new_path, actor_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := s.pool.Primary().QueryRowContext(ctx, query,
		entry.ID, entry.Kind, entry.RootPath.String(), newPath, entry.ActorID, entry.Status,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create journal entry: %w", err)
	}

	return nil
}

// SetStatus advances the entry. Terminal statuses also stamp
// completed_at.
func (s *JournalStore) SetStatus(ctx context.Context, id string, status Status) error {
	query := "UPDATE cascade_journal SET status = $1, updated_at = NOW() WHERE id = $2"
	if status.Terminal() {
		query = "UPDATE cascade_journal SET status = $1, updated_at = NOW(), completed_at = NOW() WHERE id = $2"
	}

	result, err := s.pool.Primary().ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update journal status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &orgs.NotFoundError{Kind: "journal", Ref: id}
	}
	return nil
}

// RecordFailure bumps the attempt counter and stores the cause, leaving
// the status untouched so the entry stays visible to the reconciler.
func (s *JournalStore) RecordFailure(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := s.pool.Primary().ExecContext(ctx,
		"UPDATE cascade_journal SET attempts = attempts + 1, last_error = $1, updated_at = NOW() WHERE id = $2",
		msg, id)
	if err != nil {
		return fmt.Errorf("failed to record journal failure: %w", err)
	}
	return nil
}

// Get returns a journal entry by ID.
func (s *JournalStore) Get(ctx context.Context, id string) (*Entry, error) {
	query := `
		SELECT id, kind, root_path, new_path, actor_id, status, attempts, last_error,
		       created_at, updated_at, completed_at
		FROM cascade_journal
		WHERE id = $1
	`
	return scanEntryRow(s.pool.Primary().QueryRowContext(ctx, query, id), id)
}

// ListNonTerminal returns unfinished entries last touched before the
// cutoff, oldest first. Reads the primary so a just-finished entry is
// never re-driven off a lagging replica.
func (s *JournalStore) ListNonTerminal(ctx context.Context, updatedBefore time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, root_path, new_path, actor_id, status, attempts, last_error,
		       created_at, updated_at, completed_at
		FROM cascade_journal
		WHERE status NOT IN ('done', 'cascaded') AND updated_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.pool.Primary().QueryContext(ctx, query, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntryRow(row *sql.Row, id string) (*Entry, error) {
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &orgs.NotFoundError{Kind: "journal", Ref: id}
	}
	return entry, err
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var newPath, actorID, lastError sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&entry.ID, &entry.Kind, &entry.RootPath, &newPath, &actorID, &entry.Status,
		&entry.Attempts, &lastError, &entry.CreatedAt, &entry.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan journal entry: %w", err)
	}

	entry.NewPath = hierarchy.Path(newPath.String)
	entry.ActorID = actorID.String
	entry.LastError = lastError.String
	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}
	return &entry, nil
}

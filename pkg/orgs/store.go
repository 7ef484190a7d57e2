package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// Store persists org nodes and services. Writes always go to the
// primary; plain reads go to a replica.
type Store struct {
	pool postgres.Pool
}

// NewStore creates a new org store.
func NewStore(pool postgres.Pool) *Store {
	return &Store{pool: pool}
}

// likeEscaper escapes LIKE metacharacters in path segments. Segment IDs
// may contain underscores, which LIKE would otherwise treat as a
// single-character wildcard.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DescendantPattern builds a LIKE pattern matching strict descendants of p.
func DescendantPattern(p hierarchy.Path) string {
	return likeEscaper.Replace(string(p)) + "/%"
}

// CreateNode inserts a new org node.
func (s *Store) CreateNode(ctx context.Context, node *Node) error {
	query := `
		INSERT INTO org_nodes (path, id, name, level, depth, region, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := s.pool.Primary().QueryRowContext(ctx, query,
		node.Path.String(),
		node.ID,
		node.Name,
		node.Level.String(),
		node.Depth,
		node.Region,
		node.Active,
	).Scan(&node.CreatedAt, &node.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &DuplicateError{Kind: "org", ID: node.ID}
		}
		return fmt.Errorf("failed to create org node: %w", err)
	}

	return nil
}

// GetNodeByID retrieves an org node by its ID.
func (s *Store) GetNodeByID(ctx context.Context, id string) (*Node, error) {
	query := `
		SELECT path, id, name, level, depth, region, active, deactivated_at, deactivated_by, created_at, updated_at
		FROM org_nodes
		WHERE id = $1
	`
	return s.scanNodeRow(s.pool.Replica().QueryRowContext(ctx, query, id), id)
}

// GetNodeByPath retrieves an org node by its full path.
func (s *Store) GetNodeByPath(ctx context.Context, path hierarchy.Path) (*Node, error) {
	query := `
		SELECT path, id, name, level, depth, region, active, deactivated_at, deactivated_by, created_at, updated_at
		FROM org_nodes
		WHERE path = $1
	`
	return s.scanNodeRow(s.pool.Replica().QueryRowContext(ctx, query, path.String()), path.String())
}

func (s *Store) scanNodeRow(row *sql.Row, ref string) (*Node, error) {
	var node Node
	var levelStr string
	var deactivatedAt sql.NullTime
	var deactivatedBy sql.NullString

	err := row.Scan(
		&node.Path,
		&node.ID,
		&node.Name,
		&levelStr,
		&node.Depth,
		&node.Region,
		&node.Active,
		&deactivatedAt,
		&deactivatedBy,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "org", Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get org node: %w", err)
	}

	node.Level, err = hierarchy.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse level: %w", err)
	}

	if deactivatedAt.Valid {
		at := deactivatedAt.Time
		node.DeactivatedAt = &at
	}
	if deactivatedBy.Valid {
		node.DeactivatedBy = deactivatedBy.String
	}

	return &node, nil
}

// ListChildren lists the immediate child org nodes of a parent path.
func (s *Store) ListChildren(ctx context.Context, parent hierarchy.Path) ([]*Node, error) {
	query := `
		SELECT path, id, name, level, depth, region, active, deactivated_at, deactivated_by, created_at, updated_at
		FROM org_nodes
		WHERE path LIKE $1 AND depth = $2
		ORDER BY path ASC
	`
	rows, err := s.pool.Replica().QueryContext(ctx, query, DescendantPattern(parent), parent.Depth()+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// ListSubtreeNodes lists all strict descendant org nodes of root, ordered
// by path.
func (s *Store) ListSubtreeNodes(ctx context.Context, root hierarchy.Path) ([]*Node, error) {
	query := `
		SELECT path, id, name, level, depth, region, active, deactivated_at, deactivated_by, created_at, updated_at
		FROM org_nodes
		WHERE path LIKE $1
		ORDER BY path ASC
	`
	rows, err := s.pool.Replica().QueryContext(ctx, query, DescendantPattern(root))
	if err != nil {
		return nil, fmt.Errorf("failed to list subtree nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// ListByLevel lists all org nodes at a given level, ordered by path.
func (s *Store) ListByLevel(ctx context.Context, level hierarchy.Level) ([]*Node, error) {
	query := `
		SELECT path, id, name, level, depth, region, active, deactivated_at, deactivated_by, created_at, updated_at
		FROM org_nodes
		WHERE level = $1
		ORDER BY path ASC
	`
	rows, err := s.pool.Replica().QueryContext(ctx, query, level.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list org nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var nodes []*Node
	for rows.Next() {
		var node Node
		var levelStr string
		var deactivatedAt sql.NullTime
		var deactivatedBy sql.NullString

		err := rows.Scan(
			&node.Path,
			&node.ID,
			&node.Name,
			&levelStr,
			&node.Depth,
			&node.Region,
			&node.Active,
			&deactivatedAt,
			&deactivatedBy,
			&node.CreatedAt,
			&node.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan org node: %w", err)
		}

		node.Level, err = hierarchy.ParseLevel(levelStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse level: %w", err)
		}

		if deactivatedAt.Valid {
			at := deactivatedAt.Time
			node.DeactivatedAt = &at
		}
		if deactivatedBy.Valid {
			node.DeactivatedBy = deactivatedBy.String
		}

		nodes = append(nodes, &node)
	}

	return nodes, rows.Err()
}

// UpdateNode updates a node's display fields. The path and ID never
// change here; moves go through the cascade coordinator.
func (s *Store) UpdateNode(ctx context.Context, path hierarchy.Path, updates *UpdateNodeRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *updates.Name)
		argPos++
	}
	if updates.Region != nil {
		setClauses = append(setClauses, fmt.Sprintf("region = $%d", argPos))
		args = append(args, *updates.Region)
		argPos++
	}

	if len(setClauses) == 0 {
		return nil // Nothing to update
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, path.String())
	query := fmt.Sprintf("UPDATE org_nodes SET %s WHERE path = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.pool.Primary().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update org node: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &NotFoundError{Kind: "org", Ref: path.String()}
	}

	return nil
}

// SubtreeCounts counts the strict descendants of root: org nodes and
// services separately. Reads the primary so delete gating never races a
// stale replica.
func (s *Store) SubtreeCounts(ctx context.Context, root hierarchy.Path) (nodes int, services int, err error) {
	pattern := DescendantPattern(root)

	query := `SELECT COUNT(*) FROM org_nodes WHERE path LIKE $1`
	if err := s.pool.Primary().QueryRowContext(ctx, query, pattern).Scan(&nodes); err != nil {
		return 0, 0, fmt.Errorf("failed to count subtree nodes: %w", err)
	}

	query = `SELECT COUNT(*) FROM services WHERE path LIKE $1`
	if err := s.pool.Primary().QueryRowContext(ctx, query, pattern).Scan(&services); err != nil {
		return 0, 0, fmt.Errorf("failed to count subtree services: %w", err)
	}

	return nodes, services, nil
}

// DeleteNode hard-deletes a node. Callers must have verified the subtree
// is empty; this only removes the single row.
func (s *Store) DeleteNode(ctx context.Context, path hierarchy.Path) error {
	query := `DELETE FROM org_nodes WHERE path = $1`
	result, err := s.pool.Primary().ExecContext(ctx, query, path.String())
	if err != nil {
		return fmt.Errorf("failed to delete org node: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &NotFoundError{Kind: "org", Ref: path.String()}
	}

	return nil
}

// CreateService inserts a new service under a team.
func (s *Store) CreateService(ctx context.Context, svc *Service) error {
	query := `
		INSERT INTO services (path, id, name, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := s.pool.Primary().QueryRowContext(ctx, query,
		svc.Path.String(),
		svc.ID,
		svc.Name,
		string(svc.Status),
	).Scan(&svc.CreatedAt, &svc.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &DuplicateError{Kind: "service", ID: svc.ID}
		}
		return fmt.Errorf("failed to create service: %w", err)
	}

	return nil
}

// GetServiceByID retrieves a service by its ID.
func (s *Store) GetServiceByID(ctx context.Context, id string) (*Service, error) {
	query := `
		SELECT path, id, name, status, archived_at, archived_by, created_at, updated_at
		FROM services
		WHERE id = $1
	`
	return s.scanServiceRow(s.pool.Replica().QueryRowContext(ctx, query, id), id)
}

// GetServiceByPath retrieves a service by its full path.
func (s *Store) GetServiceByPath(ctx context.Context, path hierarchy.Path) (*Service, error) {
	query := `
		SELECT path, id, name, status, archived_at, archived_by, created_at, updated_at
		FROM services
		WHERE path = $1
	`
	return s.scanServiceRow(s.pool.Replica().QueryRowContext(ctx, query, path.String()), path.String())
}

func (s *Store) scanServiceRow(row *sql.Row, ref string) (*Service, error) {
	var svc Service
	var archivedAt sql.NullTime
	var archivedBy sql.NullString

	err := row.Scan(
		&svc.Path,
		&svc.ID,
		&svc.Name,
		&svc.Status,
		&archivedAt,
		&archivedBy,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "service", Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	if archivedAt.Valid {
		at := archivedAt.Time
		svc.ArchivedAt = &at
	}
	if archivedBy.Valid {
		svc.ArchivedBy = archivedBy.String
	}

	return &svc, nil
}

// ListServicesByPrefix lists all services under an org path, ordered by
// path. Service paths sit strictly below team paths, so a prefix match
// against any org path finds exactly its subtree's services.
func (s *Store) ListServicesByPrefix(ctx context.Context, root hierarchy.Path) ([]*Service, error) {
	query := `
		SELECT path, id, name, status, archived_at, archived_by, created_at, updated_at
		FROM services
		WHERE path LIKE $1
		ORDER BY path ASC
	`
	rows, err := s.pool.Replica().QueryContext(ctx, query, DescendantPattern(root))
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		var svc Service
		var archivedAt sql.NullTime
		var archivedBy sql.NullString

		err := rows.Scan(
			&svc.Path,
			&svc.ID,
			&svc.Name,
			&svc.Status,
			&archivedAt,
			&archivedBy,
			&svc.CreatedAt,
			&svc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}

		if archivedAt.Valid {
			at := archivedAt.Time
			svc.ArchivedAt = &at
		}
		if archivedBy.Valid {
			svc.ArchivedBy = archivedBy.String
		}

		services = append(services, &svc)
	}

	return services, rows.Err()
}

// ArchiveService marks a service archived. Returns false when no active
// row matched, which callers resolve to not-found or already-archived.
func (s *Store) ArchiveService(ctx context.Context, path hierarchy.Path, by string) (bool, error) {
	query := `
		UPDATE services
		SET status = $1, archived_at = NOW(), archived_by = $2, updated_at = NOW()
		WHERE path = $3 AND status = $4
	`
	result, err := s.pool.Primary().ExecContext(ctx, query,
		string(ServiceStatusArchived), by, path.String(), string(ServiceStatusActive))
	if err != nil {
		return false, fmt.Errorf("failed to archive service: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

package orgs

import (
	"context"
	"fmt"
	"time"

	"github.com/crozierhq/crozier/pkg/hierarchy"
)

// Manager enforces tree invariants on top of the Store: level pairing,
// path derivation, segment uniqueness, and empty-subtree gating for hard
// deletes. Moves and deactivations are structural mutations and go
// through the cascade coordinator instead.
type Manager struct {
	store *Store
}

// NewManager creates a new org manager.
func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store for collaborators that need direct
// reads, such as the cascade coordinator.
func (m *Manager) Store() *Store {
	return m.store
}

// CreateNode creates an org node under a parent. The node's path is
// derived from the parent at creation time and the parent must sit
// exactly one level above. Union roots are created with an empty parent
// path.
func (m *Manager) CreateNode(ctx context.Context, req *CreateNodeRequest) (*Node, error) {
	level, err := hierarchy.ParseLevel(req.Level)
	if err != nil {
		return nil, &hierarchy.InvalidHierarchyError{Reason: fmt.Sprintf("unknown level %q", req.Level)}
	}
	if level == hierarchy.LevelService {
		return nil, &hierarchy.InvalidHierarchyError{Reason: "services are not org nodes, use the service endpoint"}
	}
	if !hierarchy.ValidSegment(req.ID) {
		return nil, &hierarchy.InvalidHierarchyError{Reason: fmt.Sprintf("invalid id %q", req.ID)}
	}

	var path hierarchy.Path
	if level == hierarchy.LevelUnion {
		if req.ParentPath != "" {
			return nil, &hierarchy.InvalidHierarchyError{Reason: "union is the root level and cannot have a parent"}
		}
		path = hierarchy.Path(req.ID)
	} else {
		if req.ParentPath == "" {
			return nil, &hierarchy.InvalidHierarchyError{Reason: fmt.Sprintf("%s requires a parent path", level)}
		}
		parent, err := m.store.GetNodeByPath(ctx, hierarchy.Path(req.ParentPath))
		if err != nil {
			return nil, err
		}
		if !parent.Active {
			return nil, &hierarchy.InvalidHierarchyError{
				Reason: fmt.Sprintf("parent %s is deactivated", parent.Path),
				Path:   parent.Path.String(),
			}
		}
		parentLevel, _ := level.ParentLevel()
		if parent.Level != parentLevel {
			return nil, &hierarchy.InvalidHierarchyError{
				Reason: fmt.Sprintf("%s must attach to a %s, parent %s is a %s", level, parentLevel, parent.Path, parent.Level),
				Path:   parent.Path.String(),
			}
		}
		path = hierarchy.Join(parent.Path, req.ID)
	}

	if err := hierarchy.Validate(path); err != nil {
		return nil, err
	}

	node := &Node{
		Path:   path,
		ID:     req.ID,
		Name:   req.Name,
		Level:  level,
		Depth:  level.Depth(),
		Region: req.Region,
		Active: true,
	}
	if err := m.store.CreateNode(ctx, node); err != nil {
		return nil, err
	}

	return node, nil
}

// CreateService creates a service under a team. Services bind only to
// teams and start in the active status.
func (m *Manager) CreateService(ctx context.Context, req *CreateServiceRequest) (*Service, error) {
	if !hierarchy.ValidSegment(req.ID) {
		return nil, &hierarchy.InvalidHierarchyError{Reason: fmt.Sprintf("invalid id %q", req.ID)}
	}

	team, err := m.store.GetNodeByPath(ctx, hierarchy.Path(req.TeamPath))
	if err != nil {
		return nil, err
	}
	if team.Level != hierarchy.LevelTeam {
		return nil, &hierarchy.InvalidHierarchyError{
			Reason: fmt.Sprintf("services attach only to teams, %s is a %s", team.Path, team.Level),
			Path:   team.Path.String(),
		}
	}
	if !team.Active {
		return nil, &hierarchy.InvalidHierarchyError{
			Reason: fmt.Sprintf("parent team %s is deactivated", team.Path),
			Path:   team.Path.String(),
		}
	}

	path := hierarchy.Join(team.Path, req.ID)
	if err := hierarchy.Validate(path); err != nil {
		return nil, err
	}

	svc := &Service{
		Path:   path,
		ID:     req.ID,
		Name:   req.Name,
		Status: ServiceStatusActive,
	}
	if err := m.store.CreateService(ctx, svc); err != nil {
		return nil, err
	}

	return svc, nil
}

// GetNode retrieves an org node by ID.
func (m *Manager) GetNode(ctx context.Context, id string) (*Node, error) {
	return m.store.GetNodeByID(ctx, id)
}

// GetNodeByPath retrieves an org node by path.
func (m *Manager) GetNodeByPath(ctx context.Context, path hierarchy.Path) (*Node, error) {
	return m.store.GetNodeByPath(ctx, path)
}

// GetService retrieves a service by ID.
func (m *Manager) GetService(ctx context.Context, id string) (*Service, error) {
	return m.store.GetServiceByID(ctx, id)
}

// List lists all org nodes at a level.
func (m *Manager) List(ctx context.Context, levelName string) ([]*Node, error) {
	level, err := hierarchy.ParseLevel(levelName)
	if err != nil {
		return nil, &hierarchy.InvalidHierarchyError{Reason: fmt.Sprintf("unknown level %q", levelName)}
	}
	if level == hierarchy.LevelService {
		return nil, &hierarchy.InvalidHierarchyError{Reason: "services are not org nodes, use the service endpoint"}
	}
	return m.store.ListByLevel(ctx, level)
}

// Children lists a node's immediate children: org nodes for union
// through church parents, services for team parents.
func (m *Manager) Children(ctx context.Context, id string) (*Children, error) {
	node, err := m.store.GetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}

	children := &Children{}
	if node.Level == hierarchy.LevelTeam {
		children.Services, err = m.store.ListServicesByPrefix(ctx, node.Path)
	} else {
		children.Nodes, err = m.store.ListChildren(ctx, node.Path)
	}
	if err != nil {
		return nil, err
	}

	return children, nil
}

// Subtree returns a node and everything below it, ordered by path.
func (m *Manager) Subtree(ctx context.Context, id string) (*Subtree, error) {
	root, err := m.store.GetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}

	nodes, err := m.store.ListSubtreeNodes(ctx, root.Path)
	if err != nil {
		return nil, err
	}

	services, err := m.store.ListServicesByPrefix(ctx, root.Path)
	if err != nil {
		return nil, err
	}

	return &Subtree{Root: root, Nodes: nodes, Services: services}, nil
}

// Update renames or retags a node. Path and ID are immutable, so no
// cascade is needed.
func (m *Manager) Update(ctx context.Context, id string, updates *UpdateNodeRequest) (*Node, error) {
	node, err := m.store.GetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.store.UpdateNode(ctx, node.Path, updates); err != nil {
		return nil, err
	}

	if updates.Name != nil {
		node.Name = *updates.Name
	}
	if updates.Region != nil {
		node.Region = *updates.Region
	}
	node.UpdatedAt = time.Now()

	return node, nil
}

// Delete hard-deletes a node. Only allowed when the subtree is empty;
// non-empty subtrees are deactivated instead, which is the terminal
// operation for them.
func (m *Manager) Delete(ctx context.Context, id string) error {
	node, err := m.store.GetNodeByID(ctx, id)
	if err != nil {
		return err
	}

	nodes, services, err := m.store.SubtreeCounts(ctx, node.Path)
	if err != nil {
		return err
	}
	if nodes > 0 || services > 0 {
		return &SubtreeNotEmptyError{Path: node.Path, Nodes: nodes, Services: services}
	}

	return m.store.DeleteNode(ctx, node.Path)
}

// ArchiveService marks a service archived. Archiving an already archived
// service is a no-op; the status is terminal either way.
func (m *Manager) ArchiveService(ctx context.Context, id, by string) (*Service, error) {
	svc, err := m.store.GetServiceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if svc.Status == ServiceStatusArchived {
		return svc, nil
	}

	archived, err := m.store.ArchiveService(ctx, svc.Path, by)
	if err != nil {
		return nil, err
	}
	if archived {
		now := time.Now()
		svc.Status = ServiceStatusArchived
		svc.ArchivedAt = &now
		svc.ArchivedBy = by
	}

	return svc, nil
}

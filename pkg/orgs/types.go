package orgs

import (
	"errors"
	"fmt"
	"time"

	"github.com/crozierhq/crozier/pkg/hierarchy"
)

// Node is an organizational tree node: a union, conference, church, or
// team. Services are the tree's leaves and live in their own collection,
// see Service. A node's path is materialized at creation time and only
// ever rewritten by a cascade when an ancestor moves.
type Node struct {
	Path          hierarchy.Path  `json:"path"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Level         hierarchy.Level `json:"level"`
	Depth         int             `json:"depth"`
	Region        string          `json:"region,omitempty"`
	Active        bool            `json:"active"`
	DeactivatedAt *time.Time      `json:"deactivated_at,omitempty"`
	DeactivatedBy string          `json:"deactivated_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ServiceStatus is a service's lifecycle state. Archived is terminal:
// archived services are never reactivated, only superseded by new ones.
type ServiceStatus string

const (
	ServiceStatusActive   ServiceStatus = "active"
	ServiceStatusArchived ServiceStatus = "archived"
)

// Service is a leaf of the tree, always attached to a team. Services are
// archived rather than deactivated, a distinct terminal status from the
// org-node active flag.
type Service struct {
	Path       hierarchy.Path `json:"path"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Status     ServiceStatus  `json:"status"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
	ArchivedBy string         `json:"archived_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CreateNodeRequest creates an org node. ParentPath is empty only when
// creating a union root.
type CreateNodeRequest struct {
	ParentPath string `json:"parent_path,omitempty"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Level      string `json:"level"`
	Region     string `json:"region,omitempty"`
}

// UpdateNodeRequest renames or retags a node. The node's ID, and with it
// every descendant path, is immutable; only display fields change here.
type UpdateNodeRequest struct {
	Name   *string `json:"name,omitempty"`
	Region *string `json:"region,omitempty"`
}

// CreateServiceRequest creates a service under a team.
type CreateServiceRequest struct {
	TeamPath string `json:"team_path"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

// Children holds a node's immediate children. Nodes is populated for
// union through church parents, Services for team parents.
type Children struct {
	Nodes    []*Node    `json:"nodes"`
	Services []*Service `json:"services"`
}

// Subtree holds a node and everything below it, ordered by path.
type Subtree struct {
	Root     *Node      `json:"root"`
	Nodes    []*Node    `json:"nodes"`
	Services []*Service `json:"services"`
}

// NotFoundError reports a missing org node or service.
type NotFoundError struct {
	Kind string // "org" or "service"
	Ref  string // the id or path that was looked up
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// DuplicateError reports an ID collision. Node and service IDs are path
// segments and must be unique across the whole tree.
type DuplicateError struct {
	Kind string
	ID   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s id already exists: %s", e.Kind, e.ID)
}

// SubtreeNotEmptyError rejects a hard delete of a node that still has
// descendants. Deactivation is the terminal operation for non-empty
// subtrees.
type SubtreeNotEmptyError struct {
	Path     hierarchy.Path
	Nodes    int
	Services int
}

func (e *SubtreeNotEmptyError) Error() string {
	return fmt.Sprintf("subtree %s is not empty: %d nodes, %d services", e.Path, e.Nodes, e.Services)
}

package hierarchy

import (
	"fmt"
	"regexp"
	"strings"
)

// Path is a materialized tree path: ancestor IDs plus the node's own ID,
// slash-delimited, root to leaf. The zero value is not a valid path.
type Path string

// Relation describes how two paths relate to each other in the tree.
// Exactly one relation holds for any pair of valid paths.
type Relation int

const (
	RelationUnrelated Relation = iota
	RelationEqual
	RelationAncestor
	RelationDescendant
)

// String returns the relation name.
func (r Relation) String() string {
	switch r {
	case RelationEqual:
		return "equal"
	case RelationAncestor:
		return "ancestor"
	case RelationDescendant:
		return "descendant"
	default:
		return "unrelated"
	}
}

// InvalidHierarchyError reports a violated tree invariant: malformed
// path, cycle, or wrong parent/child level pairing. Mutations rejected
// with this error have written nothing and are safe to retry as-is.
type InvalidHierarchyError struct {
	Reason string
	Path   string
}

func (e *InvalidHierarchyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid hierarchy: %s (path %q)", e.Reason, e.Path)
	}
	return fmt.Sprintf("invalid hierarchy: %s", e.Reason)
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidSegment reports whether s can be used as a node ID / path segment.
func ValidSegment(s string) bool {
	return segmentPattern.MatchString(s)
}

// String returns the path as a plain string.
func (p Path) String() string {
	return string(p)
}

// Segments splits the path into its node IDs, root first.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Depth is the number of segments minus one. The root has depth 0;
// an empty path reports -1.
func (p Path) Depth() int {
	return len(p.Segments()) - 1
}

// Leaf returns the node's own ID, the last segment.
func (p Path) Leaf() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent returns the path with the leaf removed. The second return is
// false for root paths and the empty path.
func (p Path) Parent() (Path, bool) {
	idx := strings.LastIndex(string(p), "/")
	if idx < 0 {
		return "", false
	}
	return Path(p[:idx]), true
}

// IsRoot reports whether the path has a single segment.
func (p Path) IsRoot() bool {
	return p != "" && !strings.Contains(string(p), "/")
}

// Join appends a node ID to a parent path. An empty parent yields the
// ID itself as a root path.
func Join(parent Path, id string) Path {
	if parent == "" {
		return Path(id)
	}
	return Path(string(parent) + "/" + id)
}

// Validate checks the path grammar: segment("/" segment)*, every segment
// a valid identifier, no empty segments, and no segment repeated (a
// repeated ID would mean the node is its own ancestor).
func Validate(p Path) error {
	if p == "" {
		return &InvalidHierarchyError{Reason: "empty path"}
	}
	seen := make(map[string]struct{})
	for _, seg := range p.Segments() {
		if seg == "" {
			return &InvalidHierarchyError{Reason: "empty path segment", Path: string(p)}
		}
		if !ValidSegment(seg) {
			return &InvalidHierarchyError{Reason: fmt.Sprintf("invalid segment %q", seg), Path: string(p)}
		}
		if _, dup := seen[seg]; dup {
			return &InvalidHierarchyError{Reason: fmt.Sprintf("segment %q repeats", seg), Path: string(p)}
		}
		seen[seg] = struct{}{}
	}
	return nil
}

// Relate computes the relation between two paths. Equal iff the strings
// match; Ancestor iff a is a strict prefix of b ending on a segment
// boundary; Descendant iff the inverse; Unrelated otherwise. A prefix
// that splits a segment ("U1/C1" vs "U1/C11") is unrelated.
func Relate(a, b Path) Relation {
	switch {
	case a == b:
		return RelationEqual
	case strings.HasPrefix(string(b), string(a)+"/"):
		return RelationAncestor
	case strings.HasPrefix(string(a), string(b)+"/"):
		return RelationDescendant
	default:
		return RelationUnrelated
	}
}

// Rebuild computes a node's path under a new parent: newParent + "/" + id.
// current is the node's present path (its leaf is the node ID), level the
// node's fixed level. Fails with InvalidHierarchyError when the new parent
// sits inside the node's own subtree (cycle), when the parent's depth
// does not put the node at its level's depth, or when the resulting path
// breaks the path grammar. No state is touched; callers persist the
// returned path themselves.
func Rebuild(current Path, level Level, newParent Path) (Path, error) {
	if err := Validate(current); err != nil {
		return "", err
	}
	if err := Validate(newParent); err != nil {
		return "", err
	}
	if !level.Valid() {
		return "", &InvalidHierarchyError{Reason: fmt.Sprintf("unknown level %d", int(level))}
	}
	parentLevel, ok := level.ParentLevel()
	if !ok {
		return "", &InvalidHierarchyError{Reason: "union is the root level and cannot be reparented", Path: string(current)}
	}
	switch Relate(current, newParent) {
	case RelationEqual:
		return "", &InvalidHierarchyError{Reason: "node cannot become its own parent", Path: string(current)}
	case RelationAncestor:
		return "", &InvalidHierarchyError{
			Reason: fmt.Sprintf("new parent %q is a descendant of %q", newParent, current),
			Path:   string(current),
		}
	}
	if newParent.Depth() != parentLevel.Depth() {
		return "", &InvalidHierarchyError{
			Reason: fmt.Sprintf("%s must attach at depth %d, parent %q has depth %d",
				level, parentLevel.Depth(), newParent, newParent.Depth()),
			Path: string(current),
		}
	}
	rebuilt := Join(newParent, current.Leaf())
	if err := Validate(rebuilt); err != nil {
		return "", err
	}
	return rebuilt, nil
}

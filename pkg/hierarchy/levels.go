package hierarchy

import (
	"encoding/json"
	"fmt"
)

// Level identifies a node's position class in the tree. Depths are fixed
// per level and immutable once assigned: Union=0, Conference=1, Church=2,
// Team=3, Service=4. Each level's parent is exactly the level above it;
// Teams bind only to Churches, Services only to Teams.
type Level int

const (
	LevelUnion Level = iota
	LevelConference
	LevelChurch
	LevelTeam
	LevelService
)

var levelNames = map[Level]string{
	LevelUnion:      "union",
	LevelConference: "conference",
	LevelChurch:     "church",
	LevelTeam:       "team",
	LevelService:    "service",
}

// String returns the lowercase level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	return l >= LevelUnion && l <= LevelService
}

// Depth returns the fixed tree depth for the level.
func (l Level) Depth() int {
	return int(l)
}

// ParentLevel returns the level a parent of l must have. The second
// return is false for LevelUnion, which has no parent.
func (l Level) ParentLevel() (Level, bool) {
	if l <= LevelUnion || !l.Valid() {
		return 0, false
	}
	return l - 1, true
}

// ChildLevel returns the level children of l must have. The second
// return is false for LevelService, which is the leaf level.
func (l Level) ChildLevel() (Level, bool) {
	if l >= LevelService || !l.Valid() {
		return 0, false
	}
	return l + 1, true
}

// IsOrg reports whether the level is an organizational level (everything
// above the service leaf). Org nodes and services are stored in separate
// collections and cascade differently on deactivation.
func (l Level) IsOrg() bool {
	return l >= LevelUnion && l < LevelService
}

// LevelFromDepth maps a path depth back to its level.
func LevelFromDepth(depth int) (Level, error) {
	l := Level(depth)
	if !l.Valid() {
		return 0, &InvalidHierarchyError{Reason: fmt.Sprintf("depth %d is outside the tree (union=0 .. service=4)", depth)}
	}
	return l, nil
}

// ParseLevel parses a level name as used in API payloads and config.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// MarshalJSON renders the level as its lowercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON parses a level from its lowercase name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

package roles

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/quota"
)

// Role is one catalog entry with its permission strings already parsed.
// MaxCount is the assignment ceiling per org path; zero means uncapped.
type Role struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Super       bool               `json:"super,omitempty"`
	MaxCount    int                `json:"max_count,omitempty"`
	Permissions []authz.Permission `json:"permissions"`
}

// catalogFile is the YAML shape of the seed file.
type catalogFile struct {
	Roles []roleEntry `yaml:"roles"`
}

type roleEntry struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Super       bool     `yaml:"super"`
	MaxCount    int      `yaml:"max_count"`
	Permissions []string `yaml:"permissions"`
}

// Catalog holds the current role set. Reloads swap the whole set at
// once, so readers never see a half-loaded catalog.
type Catalog struct {
	mu    sync.RWMutex
	roles map[string]*Role
	names []string
}

// The catalog supplies the quota guard's per-role ceilings.
var _ quota.Limits = (*Catalog)(nil)

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{roles: make(map[string]*Role)}
}

// LoadCatalog loads a catalog from a YAML seed file.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	if err := c.Load(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses the seed file, replacing the catalog contents
// only when the whole file parses. A failed load leaves the previous
// contents serving.
func (c *Catalog) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read role catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse role catalog: %w", err)
	}
	if len(file.Roles) == 0 {
		return fmt.Errorf("role catalog %s defines no roles", path)
	}

	roles, err := parseEntries(file.Roles)
	if err != nil {
		return err
	}

	c.Replace(roles)
	return nil
}

func parseEntries(entries []roleEntry) ([]*Role, error) {
	roles := make([]*Role, 0, len(entries))
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("role catalog: entry with empty name")
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("role catalog: duplicate role %q", e.Name)
		}
		seen[e.Name] = true

		perms, err := authz.ParsePermissions(e.Permissions)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", e.Name, err)
		}
		if !e.Super && len(perms) == 0 {
			return nil, fmt.Errorf("role %q grants nothing", e.Name)
		}

		roles = append(roles, &Role{
			Name:        e.Name,
			Description: e.Description,
			Super:       e.Super,
			MaxCount:    e.MaxCount,
			Permissions: perms,
		})
	}
	return roles, nil
}

// Replace swaps the catalog contents. Later entries win on a name
// collision.
func (c *Catalog) Replace(roles []*Role) {
	byName := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	c.mu.Lock()
	c.roles = byName
	c.names = names
	c.mu.Unlock()
}

// Get returns a role by name.
func (c *Catalog) Get(name string) (*Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[name]
	return r, ok
}

// List returns all roles sorted by name.
func (c *Catalog) List() []*Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roles := make([]*Role, 0, len(c.names))
	for _, name := range c.names {
		roles = append(roles, c.roles[name])
	}
	return roles
}

// MaxCount returns the role's assignment ceiling, zero for uncapped or
// unknown roles.
func (c *Catalog) MaxCount(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.roles[name]; ok {
		return r.MaxCount
	}
	return 0
}

// DefaultCatalog returns the built-in role set used when no seed file
// is configured.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Replace(defaultRoles())
	return c
}

func defaultRoles() []*Role {
	return []*Role{
		{
			Name:        "system-admin",
			Description: "Unrestricted access across every union",
			Super:       true,
			MaxCount:    5,
		},
		{
			Name:        "union-admin",
			Description: "Runs a union and everything under it",
			Permissions: []authz.Permission{
				{Resource: "orgs", Action: "read", Scope: authz.ScopeSubordinate},
				{Resource: "orgs", Action: "manage", Scope: authz.ScopeSubordinate},
				{Resource: "roles", Action: "assign", Scope: authz.ScopeSubordinate},
				{Resource: "services", Action: "manage", Scope: authz.ScopeSubordinate},
				{Resource: "audit", Action: "read", Scope: authz.ScopeSubordinate},
			},
		},
		{
			Name:        "conference-admin",
			Description: "Manages the churches of one conference",
			Permissions: []authz.Permission{
				{Resource: "orgs", Action: "read", Scope: authz.ScopeSubordinate},
				{Resource: "orgs", Action: "manage", Scope: authz.ScopeSubordinate},
				{Resource: "roles", Action: "assign", Scope: authz.ScopeSubordinate},
				{Resource: "services", Action: "manage", Scope: authz.ScopeSubordinate},
			},
		},
		{
			Name:        "pastor",
			Description: "Leads a single church",
			MaxCount:    2,
			Permissions: []authz.Permission{
				{Resource: "orgs", Action: "read", Scope: authz.ScopeSubordinate},
				{Resource: "teams", Action: "manage", Scope: authz.ScopeSubordinate},
				{Resource: "members", Action: "manage", Scope: authz.ScopeSubordinate},
				{Resource: "services", Action: "read", Scope: authz.ScopeSubordinate},
			},
		},
		{
			Name:        "team-lead",
			Description: "Coordinates one team and its services",
			MaxCount:    1,
			Permissions: []authz.Permission{
				{Resource: "teams", Action: "manage", Scope: authz.ScopeTeam},
				{Resource: "teams", Action: "manage", Scope: authz.ScopeTeamSubordinate},
				{Resource: "services", Action: "publish", Scope: authz.ScopeTeam},
				{Resource: "services", Action: "read", Scope: authz.ScopeTeam},
			},
		},
		{
			Name:        "regional-auditor",
			Description: "Read-only view over one region",
			Permissions: []authz.Permission{
				{Resource: "orgs", Action: "read", Scope: authz.ScopeRegion},
				{Resource: "audit", Action: "read", Scope: authz.ScopeRegion},
			},
		},
		{
			Name:        "member",
			Description: "Sees only their own org",
			Permissions: []authz.Permission{
				{Resource: "orgs", Action: "read", Scope: authz.ScopeOwn},
				{Resource: "services", Action: "read", Scope: authz.ScopeOwn},
			},
		},
	}
}

package roles

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/observability"
)

// ActorCache is the shared cache layer in front of the assignment
// tables. Implemented by the redis client; GetActor returns (nil, nil)
// on a miss.
type ActorCache interface {
	GetActor(ctx context.Context, actorID string) (*authz.Actor, error)
	SetActor(ctx context.Context, actor *authz.Actor, ttl time.Duration) error
	InvalidateActor(ctx context.Context, actorID string) error
}

// DirectoryConfig wires a Directory. Cache is optional; without it the
// directory runs on the in-process LRU alone.
type DirectoryConfig struct {
	Store     *Store
	Catalog   *Catalog
	Cache     ActorCache
	CacheSize int
	CacheTTL  time.Duration
	RedisTTL  time.Duration
	Logger    *observability.Logger
}

// Directory resolves actor IDs to actors with their grants loaded and
// permission strings already parsed. Two cache layers sit in front of
// postgres: a per-process expiring LRU and a shared redis snapshot.
// Assignment writes invalidate both through Invalidate.
type Directory struct {
	store    *Store
	catalog  *Catalog
	redis    ActorCache
	redisTTL time.Duration
	lru      *expirable.LRU[string, *authz.Actor]
	logger   *observability.Logger
}

var (
	_ authz.Directory  = (*Directory)(nil)
	_ CacheInvalidator = (*Directory)(nil)
)

// NewDirectory creates an actor directory.
func NewDirectory(cfg DirectoryConfig) *Directory {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	redisTTL := cfg.RedisTTL
	if redisTTL <= 0 {
		redisTTL = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Directory{
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		redis:    cfg.Cache,
		redisTTL: redisTTL,
		lru:      expirable.NewLRU[string, *authz.Actor](size, nil, ttl),
		logger:   logger,
	}
}

// Lookup resolves the actor, from cache when possible. An actor with no
// active assignments resolves to an empty grant set, not an error.
func (d *Directory) Lookup(ctx context.Context, actorID string) (*authz.Actor, error) {
	if actor, ok := d.lru.Get(actorID); ok {
		return actor, nil
	}

	if d.redis != nil {
		actor, err := d.redis.GetActor(ctx, actorID)
		if err != nil {
			d.logger.WithError(err).WithField("actor_id", actorID).Warn("actor cache read failed")
		} else if actor != nil {
			d.lru.Add(actorID, actor)
			return actor, nil
		}
	}

	actor, err := d.load(ctx, actorID)
	if err != nil {
		return nil, err
	}

	d.lru.Add(actorID, actor)
	if d.redis != nil {
		if err := d.redis.SetActor(ctx, actor, d.redisTTL); err != nil {
			d.logger.WithError(err).WithField("actor_id", actorID).Warn("actor cache write failed")
		}
	}
	return actor, nil
}

// load builds the actor from its active assignments. An assignment
// whose role has left the catalog keeps its grant row but contributes
// no permissions, so the hole shows up in decision logs instead of
// vanishing.
func (d *Directory) load(ctx context.Context, actorID string) (*authz.Actor, error) {
	rows, err := d.store.LoadGrants(ctx, actorID)
	if err != nil {
		return nil, err
	}

	actor := &authz.Actor{ID: actorID}
	for _, row := range rows {
		grant := authz.Grant{
			Role:    row.Role,
			Path:    row.OrgPath,
			TeamID:  row.TeamID,
			Region:  row.Region,
			Primary: row.PrimaryOrg,
		}
		if role, ok := d.catalog.Get(row.Role); ok {
			grant.Permissions = role.Permissions
			if role.Super {
				actor.Super = true
			}
		} else {
			d.logger.WithFields(map[string]interface{}{
				"actor_id": actorID,
				"role":     row.Role,
			}).Warn("assignment references unknown role")
		}
		if row.PrimaryOrg && actor.PrimaryOrg == "" {
			actor.PrimaryOrg = row.OrgPath
		}
		actor.Grants = append(actor.Grants, grant)
	}
	return actor, nil
}

// Invalidate drops the actor from both cache layers.
func (d *Directory) Invalidate(ctx context.Context, actorID string) error {
	d.lru.Remove(actorID)
	if d.redis == nil {
		return nil
	}
	return d.redis.InvalidateActor(ctx, actorID)
}

package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crozierhq/crozier/pkg/hierarchy"
)

// SubtreeBusyError reports that another cascade holds the subtree.
// Safe to retry once the running cascade finishes.
type SubtreeBusyError struct {
	Path hierarchy.Path
}

func (e *SubtreeBusyError) Error() string {
	return fmt.Sprintf("cascade already in progress for subtree %s", e.Path)
}

// IsSubtreeBusy checks if an error is a subtree busy error.
func IsSubtreeBusy(err error) bool {
	var be *SubtreeBusyError
	return errors.As(err, &be)
}

// LeaseStore is the distributed lock backend. Implemented by the redis
// client; a nil store degrades to in-process locking, which is enough
// for a single-instance deployment.
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

// Leaser serializes cascades per root subtree. Concurrent moves of
// overlapping subtrees can interleave their prefix rewrites, so every
// cascade takes a lease on the union root (or roots, when a move
// crosses unions) of the paths it will touch.
type Leaser struct {
	store LeaseStore
	ttl   time.Duration

	mu    sync.Mutex
	local map[string]string
}

// NewLeaser creates a leaser. ttl bounds how long a crashed holder can
// block the subtree; zero selects the two minute default.
func NewLeaser(store LeaseStore, ttl time.Duration) *Leaser {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Leaser{
		store: store,
		ttl:   ttl,
		local: make(map[string]string),
	}
}

const leaseKeyPrefix = "cascade:lease:"

type leaseTarget struct {
	key  string
	path hierarchy.Path
}

// leaseTargets maps the paths to their deduplicated root-segment lock
// keys, sorted so concurrent acquirers always lock in the same order.
func leaseTargets(paths []hierarchy.Path) []leaseTarget {
	roots := make(map[string]hierarchy.Path)
	for _, p := range paths {
		segs := p.Segments()
		if len(segs) == 0 {
			continue
		}
		if _, ok := roots[segs[0]]; !ok {
			roots[segs[0]] = p
		}
	}

	targets := make([]leaseTarget, 0, len(roots))
	for root, p := range roots {
		targets = append(targets, leaseTarget{key: leaseKeyPrefix + root, path: p})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].key < targets[j].key })
	return targets
}

// Acquire takes leases covering every given path and returns a release
// function. Returns SubtreeBusyError when any root is already held.
func (l *Leaser) Acquire(ctx context.Context, paths ...hierarchy.Path) (func(), error) {
	targets := leaseTargets(paths)
	token := uuid.New().String()

	var held []leaseTarget
	for _, target := range targets {
		ok, err := l.tryAcquire(ctx, target.key, token)
		if err != nil {
			l.releaseAll(held, token)
			return nil, fmt.Errorf("failed to acquire cascade lease: %w", err)
		}
		if !ok {
			l.releaseAll(held, token)
			return nil, &SubtreeBusyError{Path: target.path}
		}
		held = append(held, target)
	}

	return func() { l.releaseAll(held, token) }, nil
}

func (l *Leaser) tryAcquire(ctx context.Context, key, token string) (bool, error) {
	if l.store != nil {
		return l.store.SetNX(ctx, key, token, l.ttl)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.local[key]; busy {
		return false, nil
	}
	l.local[key] = token
	return true, nil
}

// releaseAll runs against a fresh context so a lease is freed even when
// the request that took it has been canceled.
func (l *Leaser) releaseAll(held []leaseTarget, token string) {
	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, target := range held {
			l.store.ReleaseLock(ctx, target.key, token)
		}
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, target := range held {
		if l.local[target.key] == token {
			delete(l.local, target.key)
		}
	}
}

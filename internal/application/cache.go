package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/tako/internal/domain/model"
)

// refreshKey is the singleflight key shared by every bulk refresh.
const refreshKey = "installation-repositories"

// repositoryLoader is satisfied by *RepositoryFetcher.
type repositoryLoader interface {
	Load(ctx context.Context) ([]model.Repository, error)
}

// phaseTransitions lists the legal next phases for each phase.
//
//	from \ event   read          refresh ok   refresh fail   purge
//	Empty          Populating    -            -              Invalidated
//	Populating     (join)        Populated    Invalidated    Invalidated
//	Populated      (serve)       -            -              Invalidated
//	Invalidated    Populating    -            -              Invalidated
var phaseTransitions = map[model.CachePhase][]model.CachePhase{
	model.PhaseEmpty:       {model.PhasePopulating, model.PhaseInvalidated},
	model.PhasePopulating:  {model.PhasePopulated, model.PhaseInvalidated},
	model.PhasePopulated:   {model.PhaseInvalidated},
	model.PhaseInvalidated: {model.PhasePopulating, model.PhaseInvalidated},
}

// RepositoryCache is the authoritative in-memory view of the repositories the
// installation can access. Reads on an empty or invalidated cache trigger a
// single shared refresh; webhook deltas are applied only to a populated cache.
type RepositoryCache struct {
	loader repositoryLoader
	logger *slog.Logger
	group  singleflight.Group

	mu         sync.Mutex
	entries    map[int64]model.Repository
	phase      model.CachePhase
	generation uint64 // Bumped by Purge; refreshes from an older generation are not installed.
}

// NewRepositoryCache creates an empty cache that refreshes through loader.
func NewRepositoryCache(loader repositoryLoader, logger *slog.Logger) *RepositoryCache {
	return &RepositoryCache{
		loader:  loader,
		logger:  logger,
		entries: make(map[int64]model.Repository),
		phase:   model.PhaseEmpty,
	}
}

// List returns the cached repositories sorted by full name. If the cache is
// empty or invalidated it starts a refresh; concurrent callers share the one
// in-flight refresh and receive its result. A refresh failure invalidates the
// cache and is returned to every waiter as *model.FetchError.
//
// The refresh runs under the context of the caller that started it, so
// cancelling that context aborts the fetch for everyone waiting on it. Any
// caller whose own context ends first is released with a FetchError.
func (c *RepositoryCache) List(ctx context.Context) ([]model.Repository, error) {
	c.mu.Lock()
	if c.phase == model.PhasePopulated {
		repos := c.snapshotLocked()
		c.mu.Unlock()
		return repos, nil
	}

	if c.phase != model.PhasePopulating {
		c.setPhaseLocked(model.PhasePopulating)
	}
	generation := c.generation
	// Registered under c.mu so the phase check and joining the call are atomic.
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(ctx, generation)
	})
	c.mu.Unlock()

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return cloneRepositories(result.Val.([]model.Repository)), nil
	case <-ctx.Done():
		return nil, &model.FetchError{Op: "wait for repository refresh", Err: ctx.Err()}
	}
}

// refresh loads a full snapshot and installs it if no purge happened while
// the load was in flight.
func (c *RepositoryCache) refresh(ctx context.Context, generation uint64) ([]model.Repository, error) {
	start := time.Now()
	repos, err := c.loader.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		c.logger.Info("repository refresh superseded by purge, not installing",
			"generation", generation,
			"current_generation", c.generation,
		)
		if err != nil {
			return nil, asFetchError(err)
		}
		return sortRepositories(repos), nil
	}

	if err != nil {
		// Forget first so a reader arriving after this unlock starts a new
		// refresh instead of joining the one that just failed.
		c.group.Forget(refreshKey)
		c.entries = make(map[int64]model.Repository)
		c.setPhaseLocked(model.PhaseInvalidated)
		c.logger.Warn("repository refresh failed",
			"error", err,
			"duration", time.Since(start).Round(time.Millisecond),
		)
		return nil, asFetchError(err)
	}

	entries := make(map[int64]model.Repository, len(repos))
	for _, repo := range repos {
		if repo.Archived {
			continue
		}
		entries[repo.ID] = repo.Clone()
	}
	c.entries = entries
	c.setPhaseLocked(model.PhasePopulated)

	c.logger.Info("repository cache populated",
		"repositories", len(entries),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return c.snapshotLocked(), nil
}

// Purge discards every entry and marks the cache invalidated. It does not
// fetch; the next List does. Purging an already-invalidated cache has no
// observable effect.
func (c *RepositoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.group.Forget(refreshKey)
	c.entries = make(map[int64]model.Repository)
	c.setPhaseLocked(model.PhaseInvalidated)
}

// ApplyAdded inserts or replaces a repository. It is a no-op for archived
// repositories and whenever the cache is not populated, since the pending
// full refresh will supersede it. A record that does not carry topics keeps
// the topics of the entry it replaces. Returns true if the cache changed.
func (c *RepositoryCache) ApplyAdded(repo model.Repository) bool {
	if repo.Archived {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != model.PhasePopulated {
		return false
	}

	repo = repo.Clone()
	if existing, ok := c.entries[repo.ID]; ok && !repo.TopicsKnown && existing.TopicsKnown {
		repo.Topics = existing.Topics
		repo.TopicsKnown = true
	}
	c.entries[repo.ID] = repo
	return true
}

// ApplyRemoved deletes the repository with the given id. Removing an id that
// is not tracked, or removing while the cache is not populated, is a no-op.
// Returns true if the cache changed.
func (c *RepositoryCache) ApplyRemoved(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != model.PhasePopulated {
		return false
	}
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	return true
}

// Phase returns the current cache phase.
func (c *RepositoryCache) Phase() model.CachePhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Len returns the number of cached repositories.
func (c *RepositoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// setPhaseLocked moves the cache to next. An illegal transition is a bug in
// this file, not a runtime condition, so it panics. Must be called with c.mu held.
func (c *RepositoryCache) setPhaseLocked(next model.CachePhase) {
	if !slices.Contains(phaseTransitions[c.phase], next) {
		panic(fmt.Sprintf("repository cache: illegal phase transition %s -> %s", c.phase, next))
	}
	if c.phase != next {
		c.logger.Debug("repository cache phase changed", "from", c.phase.String(), "to", next.String())
	}
	c.phase = next
}

// snapshotLocked returns a sorted copy of the entries. Must be called with c.mu held.
func (c *RepositoryCache) snapshotLocked() []model.Repository {
	repos := make([]model.Repository, 0, len(c.entries))
	for _, repo := range c.entries {
		repos = append(repos, repo.Clone())
	}
	return sortRepositories(repos)
}

// asFetchError wraps err as *model.FetchError unless it already is one.
func asFetchError(err error) error {
	var fetchErr *model.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &model.FetchError{Op: "refresh installation repositories", Err: err}
}

func sortRepositories(repos []model.Repository) []model.Repository {
	slices.SortFunc(repos, func(a, b model.Repository) int {
		if n := strings.Compare(strings.ToLower(a.FullName), strings.ToLower(b.FullName)); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return repos
}

func cloneRepositories(repos []model.Repository) []model.Repository {
	out := make([]model.Repository, len(repos))
	for i, repo := range repos {
		out[i] = repo.Clone()
	}
	return out
}

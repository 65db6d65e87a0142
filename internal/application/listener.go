package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/tako/internal/domain/model"
)

// repositoryMutator is satisfied by *RepositoryCache.
type repositoryMutator interface {
	ApplyAdded(repo model.Repository) bool
	ApplyRemoved(id int64) bool
	Purge()
	Phase() model.CachePhase
}

// EventListener applies installation change events to the repository cache.
// It never calls GitHub: deltas are applied as received and anything that
// cannot be expressed as a delta purges the cache.
type EventListener struct {
	cache  repositoryMutator
	logger *slog.Logger
}

// NewEventListener creates an EventListener that mutates cache.
func NewEventListener(cache repositoryMutator, logger *slog.Logger) *EventListener {
	return &EventListener{
		cache:  cache,
		logger: logger,
	}
}

// Handle applies event and reports what happened to it. Deltas that arrive
// while the cache is not populated change nothing and are reported as
// deferred, since the next full refresh already reflects them.
func (l *EventListener) Handle(ctx context.Context, event model.RepositoryEvent) model.DeliveryOutcome {
	switch event.Kind {
	case model.EventRepositoriesAdded:
		return l.applyAdded(ctx, event)
	case model.EventRepositoriesRemoved:
		return l.applyRemoved(ctx, event)
	case model.EventMembershipChanged:
		l.cache.Purge()
		l.logger.InfoContext(ctx, "repository cache purged", "reason", event.Reason)
		return model.OutcomePurged
	default:
		l.logger.WarnContext(ctx, "unknown repository event kind ignored", "kind", string(event.Kind))
		return model.OutcomeIgnored
	}
}

func (l *EventListener) applyAdded(ctx context.Context, event model.RepositoryEvent) model.DeliveryOutcome {
	var applied, skipped int
	for _, repo := range event.Repositories {
		if repo.Archived {
			skipped++
			l.logger.InfoContext(ctx, "archived repository not cached",
				"repo", repo.FullName,
				"id", repo.ID,
			)
			continue
		}
		if l.cache.ApplyAdded(repo) {
			applied++
		}
	}

	l.logger.DebugContext(ctx, "repositories added",
		"reason", event.Reason,
		"received", len(event.Repositories),
		"applied", applied,
		"archived", skipped,
	)

	return l.outcome()
}

func (l *EventListener) applyRemoved(ctx context.Context, event model.RepositoryEvent) model.DeliveryOutcome {
	var applied int
	for _, repo := range event.Repositories {
		if l.cache.ApplyRemoved(repo.ID) {
			applied++
		}
	}

	l.logger.DebugContext(ctx, "repositories removed",
		"reason", event.Reason,
		"received", len(event.Repositories),
		"applied", applied,
	)

	return l.outcome()
}

// outcome classifies a delta once it has been offered to the cache. A
// populated cache has taken it into account even when nothing changed.
func (l *EventListener) outcome() model.DeliveryOutcome {
	if l.cache.Phase() == model.PhasePopulated {
		return model.OutcomeApplied
	}
	return model.OutcomeDeferred
}

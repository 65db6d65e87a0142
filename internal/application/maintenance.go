package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// pruneInterval is how often old deliveries are removed from the ledger.
const pruneInterval = time.Hour

// resyncTarget is satisfied by *RepositoryCache.
type resyncTarget interface {
	Purge()
	List(ctx context.Context) ([]model.Repository, error)
}

// resyncRequest represents a manual resync trigger.
type resyncRequest struct {
	done chan error
}

// MaintenanceService runs the periodic housekeeping loop: full resyncs of the
// repository cache and pruning of the webhook delivery ledger.
type MaintenanceService struct {
	cache      resyncTarget
	deliveries driven.DeliveryStore
	logger     *slog.Logger

	resyncInterval time.Duration // Zero disables periodic resyncs.
	retention      time.Duration
	now            func() time.Time

	resyncCh chan resyncRequest
}

// NewMaintenanceService creates a MaintenanceService. deliveries may be nil,
// in which case no pruning happens.
func NewMaintenanceService(
	cache resyncTarget,
	deliveries driven.DeliveryStore,
	resyncInterval time.Duration,
	retention time.Duration,
	logger *slog.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		cache:          cache,
		deliveries:     deliveries,
		logger:         logger,
		resyncInterval: resyncInterval,
		retention:      retention,
		now:            time.Now,
		resyncCh:       make(chan resyncRequest),
	}
}

// Start runs the maintenance loop until ctx is canceled. It prunes once
// immediately, then on every prune tick, and resyncs on every resync tick.
// Manual resync requests are served from the same loop so they never overlap
// a scheduled one.
func (s *MaintenanceService) Start(ctx context.Context) {
	s.prune(ctx)

	var resyncC <-chan time.Time
	if s.resyncInterval > 0 {
		ticker := time.NewTicker(s.resyncInterval)
		defer ticker.Stop()
		resyncC = ticker.C
	}

	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance service stopped")
			return
		case <-resyncC:
			if err := s.resync(ctx, "scheduled"); err != nil {
				s.logger.Error("scheduled resync failed", "error", err)
			}
		case <-pruneTicker.C:
			s.prune(ctx)
		case req := <-s.resyncCh:
			req.done <- s.resync(ctx, "manual")
		}
	}
}

// Resync purges the cache and repopulates it, bypassing the resync interval.
// It blocks until the resync completes or ctx is canceled. Start must be
// running for the request to be served.
func (s *MaintenanceService) Resync(ctx context.Context) error {
	done := make(chan error, 1)

	select {
	case s.resyncCh <- resyncRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MaintenanceService) resync(ctx context.Context, trigger string) error {
	start := time.Now()

	s.cache.Purge()
	repos, err := s.cache.List(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("repository cache resynced",
		"trigger", trigger,
		"repositories", len(repos),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (s *MaintenanceService) prune(ctx context.Context) {
	if s.deliveries == nil || s.retention <= 0 {
		return
	}

	cutoff := s.now().Add(-s.retention)
	removed, err := s.deliveries.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("prune deliveries failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("deliveries pruned", "removed", removed, "cutoff", cutoff)
	}
}

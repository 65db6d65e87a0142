package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// appDirectory is the App-level subset of driven.CredentialProvider the
// bootstrapper needs.
type appDirectory interface {
	App(ctx context.Context) (model.App, error)
	Installations(ctx context.Context) ([]model.Installation, error)
	Installation(ctx context.Context, installationID int64) (model.Installation, error)
}

// Bootstrapper verifies the App can act for the configured installation and
// warms the repository cache before the service reports ready.
type Bootstrapper struct {
	apps    appDirectory
	clients clientSource
	cache   repositoryLister
	logger  *slog.Logger

	installationID int64
}

// NewBootstrapper creates a Bootstrapper for installationID.
func NewBootstrapper(
	apps driven.CredentialProvider,
	clients clientSource,
	cache repositoryLister,
	installationID int64,
	logger *slog.Logger,
) *Bootstrapper {
	return &Bootstrapper{
		apps:           apps,
		clients:        clients,
		cache:          cache,
		logger:         logger,
		installationID: installationID,
	}
}

// Run performs the startup sequence:
//  1. look up the App, the configured installation and all installations
//  2. check the installation belongs to the account that owns the App
//  3. exchange credentials for the installation client
//  4. populate the cache
//
// Every failure is fatal to startup. It returns the verified installation.
func (b *Bootstrapper) Run(ctx context.Context) (model.Installation, error) {
	start := time.Now()

	var (
		app           model.App
		installation  model.Installation
		installations []model.Installation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		app, err = b.apps.App(gctx)
		if err != nil {
			return &model.AuthError{Op: "get app", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		installation, err = b.apps.Installation(gctx, b.installationID)
		if err != nil {
			return &model.AuthError{Op: fmt.Sprintf("get installation %d", b.installationID), Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		installations, err = b.apps.Installations(gctx)
		if err != nil {
			return &model.AuthError{Op: "list installations", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.Installation{}, err
	}

	if len(installations) > 1 {
		ids := make([]int64, 0, len(installations))
		for _, inst := range installations {
			ids = append(ids, inst.ID)
		}
		b.logger.Warn("app has more than one installation, serving only the configured one",
			"installation_id", b.installationID,
			"installations", ids,
		)
	}

	if !strings.EqualFold(installation.Account.Login, app.OwnerLogin) {
		return model.Installation{}, &model.AuthError{
			Op:  "verify installation account",
			Err: fmt.Errorf("%w: installation account %q, app owner %q", model.ErrAccountMismatch, installation.Account.Login, app.OwnerLogin),
		}
	}

	if _, err := b.clients.Get(ctx); err != nil {
		return model.Installation{}, err
	}

	repos, err := b.cache.List(ctx)
	if err != nil {
		return model.Installation{}, fmt.Errorf("warm repository cache: %w", err)
	}

	b.logger.Info("bootstrap complete",
		"app", app.Slug,
		"installation_id", installation.ID,
		"account", installation.Account.Login,
		"repository_selection", installation.RepositorySelection,
		"repositories", len(repos),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return installation, nil
}

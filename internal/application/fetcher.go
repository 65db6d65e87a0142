// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// repositoryPageSize is the per_page value for the bulk listing and search.
// 100 is the maximum GitHub accepts.
const repositoryPageSize = 100

// clientSource is satisfied by *ClientProvider.
type clientSource interface {
	Get(ctx context.Context) (driven.InstallationClient, error)
	Reset()
}

// RepositoryFetcher performs the full paginated bulk listing of the
// repositories accessible to the installation.
type RepositoryFetcher struct {
	clients clientSource
	logger  *slog.Logger
}

// NewRepositoryFetcher creates a fetcher that obtains its client from clients.
func NewRepositoryFetcher(clients clientSource, logger *slog.Logger) *RepositoryFetcher {
	return &RepositoryFetcher{
		clients: clients,
		logger:  logger,
	}
}

// Load resolves the installation client and fetches the full snapshot. If
// GitHub rejects the installation token the client is dropped, so the next
// Load exchanges credentials again.
func (f *RepositoryFetcher) Load(ctx context.Context) ([]model.Repository, error) {
	client, err := f.clients.Get(ctx)
	if err != nil {
		return nil, err
	}

	repos, err := f.FetchAll(ctx, client)
	if err != nil {
		resetOnAuthError(f.clients, f.logger, err)
		return nil, err
	}
	return repos, nil
}

// FetchAll walks every page of the installation repository listing and
// returns the accessible, non-archived repositories in the order received.
// Duplicate ids keep the position of their first occurrence and the data of
// their last. Any page failure fails the whole call; no partial snapshot is
// returned.
func (f *RepositoryFetcher) FetchAll(ctx context.Context, client driven.InstallationClient) ([]model.Repository, error) {
	var (
		order    []int64
		byID     = make(map[int64]*model.Repository)
		received int
	)

	err := walkPages(ctx, func(ctx context.Context, page int) (driven.Page[*model.Repository], error) {
		return client.ListRepositoriesPage(ctx, page, repositoryPageSize)
	}, func(repo *model.Repository) {
		received++
		if repo == nil {
			return
		}
		if _, seen := byID[repo.ID]; !seen {
			order = append(order, repo.ID)
		}
		byID[repo.ID] = repo
	})
	if err != nil {
		return nil, &model.FetchError{Op: "list installation repositories", Err: err}
	}

	repos := make([]model.Repository, 0, len(order))
	var archived int
	for _, id := range order {
		repo := byID[id]
		if repo.Archived {
			archived++
			continue
		}
		repos = append(repos, repo.Clone())
	}

	f.logger.Debug("installation repositories fetched",
		"received", received,
		"kept", len(repos),
		"archived", archived,
		"duplicates", received-len(order),
	)

	return repos, nil
}

// resetOnAuthError drops the memoized client when err carries *model.AuthError.
func resetOnAuthError(clients clientSource, logger *slog.Logger, err error) {
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		return
	}
	clients.Reset()
	logger.Warn("installation credentials rejected, client reset", "error", err)
}

// walkPages fetches pages starting at 1 until NextPage is 0, passing every
// item to visit. A NextPage that does not move forward is treated as an error
// rather than looping forever.
func walkPages[T any](ctx context.Context, fetch func(ctx context.Context, page int) (driven.Page[T], error), visit func(T)) error {
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := fetch(ctx, page)
		if err != nil {
			return err
		}

		for _, item := range result.Items {
			visit(item)
		}

		if result.NextPage == 0 {
			return nil
		}
		if result.NextPage <= page {
			return fmt.Errorf("pagination did not advance: page %d reported next page %d", page, result.NextPage)
		}
		page = result.NextPage
	}
}

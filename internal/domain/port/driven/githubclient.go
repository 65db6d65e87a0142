// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"

	"github.com/ericfisherdev/tako/internal/domain/model"
)

// Page is one page of a paginated GitHub listing. NextPage is 0 when the
// upstream signals there are no further pages.
type Page[T any] struct {
	Items    []T
	NextPage int
}

// SearchPage is one page of repository search results, reduced to ids.
type SearchPage struct {
	Page[int64]

	// Incomplete is set when GitHub's search timed out before finishing.
	Incomplete bool
}

// InstallationClient defines the driven port for GitHub calls made with an
// installation-scoped credential. Implementations handle token rotation.
type InstallationClient interface {
	// ListRepositoriesPage returns one page of the repositories accessible to
	// the installation. Items may contain nil entries when upstream data is sparse.
	ListRepositoriesPage(ctx context.Context, page, perPage int) (Page[*model.Repository], error)

	// SearchRepositoriesPage runs a repository search query and returns the
	// ids of one page of results.
	SearchRepositoriesPage(ctx context.Context, query string, page, perPage int) (SearchPage, error)
}

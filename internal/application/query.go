package application

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// topicPattern is GitHub's topic grammar: lowercase letters, digits and
// hyphens, starting with a letter or digit, at most 50 characters.
var topicPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,49}$`)

// repositoryLister is satisfied by *RepositoryCache.
type repositoryLister interface {
	List(ctx context.Context) ([]model.Repository, error)
}

// installationResolver is satisfied by driven.CredentialProvider.
type installationResolver interface {
	Installation(ctx context.Context, installationID int64) (model.Installation, error)
}

// QueryEngine serves topic-filtered reads of the repository cache. The cache
// stays the authority on which repositories are managed: search results only
// ever narrow the cached set.
type QueryEngine struct {
	cache          repositoryLister
	clients        clientSource
	installations  installationResolver
	installationID int64
	searchAccount  string // Overrides the installation account as search scope when set.
	logger         *slog.Logger

	mu      sync.Mutex
	account *model.Account
}

// NewQueryEngine creates a QueryEngine. searchAccount may be empty, in which
// case the installation's own account scopes topic searches.
func NewQueryEngine(
	cache repositoryLister,
	clients clientSource,
	installations installationResolver,
	installationID int64,
	searchAccount string,
	logger *slog.Logger,
) *QueryEngine {
	return &QueryEngine{
		cache:          cache,
		clients:        clients,
		installations:  installations,
		installationID: installationID,
		searchAccount:  searchAccount,
		logger:         logger,
	}
}

// Filter returns the cached repositories tagged with topic. When every cached
// record carries its topics the filter is local; otherwise the cached ids are
// intersected with a live GitHub search scoped to the installation account.
//
// Topics are matched case-insensitively. No repository can carry a topic
// outside GitHub's topic syntax, so such a topic matches nothing and never
// reaches the cache or a search query.
func (q *QueryEngine) Filter(ctx context.Context, topic string) ([]model.Repository, error) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if !topicPattern.MatchString(topic) {
		q.logger.Debug("topic filter ignored malformed topic", "topic", topic)
		return []model.Repository{}, nil
	}

	repos, err := q.cache.List(ctx)
	if err != nil {
		return nil, err
	}

	if len(repos) == 0 {
		return []model.Repository{}, nil
	}

	if allTopicsKnown(repos) {
		matched := make([]model.Repository, 0)
		for _, repo := range repos {
			if repo.HasTopic(topic) {
				matched = append(matched, repo)
			}
		}
		return matched, nil
	}

	ids, err := q.searchTopic(ctx, topic)
	if err != nil {
		return nil, err
	}

	matched := make([]model.Repository, 0, len(ids))
	for _, repo := range repos {
		if _, ok := ids[repo.ID]; ok {
			matched = append(matched, repo)
		}
	}
	unmanaged := len(ids) - len(matched)

	q.logger.Debug("topic filter reconciled with search",
		"topic", topic,
		"cached", len(repos),
		"search_hits", len(ids),
		"matched", len(matched),
		"unmanaged_hits", unmanaged,
	)

	return matched, nil
}

// searchTopic returns the ids of every repository in the search scope tagged
// with topic.
func (q *QueryEngine) searchTopic(ctx context.Context, topic string) (map[int64]struct{}, error) {
	account, err := q.resolveAccount(ctx)
	if err != nil {
		return nil, &model.FetchError{Op: "resolve installation account", Err: err}
	}

	client, err := q.clients.Get(ctx)
	if err != nil {
		return nil, &model.FetchError{Op: "search repositories", Err: err}
	}

	query := searchQuery(account, topic)
	ids := make(map[int64]struct{})
	var incomplete bool

	err = walkPages(ctx, func(ctx context.Context, page int) (driven.Page[int64], error) {
		result, err := client.SearchRepositoriesPage(ctx, query, page, repositoryPageSize)
		if err != nil {
			return driven.Page[int64]{}, err
		}
		incomplete = incomplete || result.Incomplete
		return result.Page, nil
	}, func(id int64) {
		ids[id] = struct{}{}
	})
	if err != nil {
		resetOnAuthError(q.clients, q.logger, err)
		return nil, &model.FetchError{Op: "search repositories", Err: fmt.Errorf("query %q: %w", query, err)}
	}
	if incomplete {
		return nil, &model.FetchError{Op: "search repositories", Err: fmt.Errorf("query %q: %w", query, model.ErrIncompleteSearch)}
	}

	return ids, nil
}

// resolveAccount returns the account that scopes searches. The installation
// account never changes for an installation id, so the first successful
// lookup is memoized.
func (q *QueryEngine) resolveAccount(ctx context.Context) (model.Account, error) {
	if q.searchAccount != "" {
		return model.Account{Login: q.searchAccount}, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.account != nil {
		return *q.account, nil
	}

	installation, err := q.installations.Installation(ctx, q.installationID)
	if err != nil {
		return model.Account{}, err
	}
	if installation.Account.Login == "" {
		return model.Account{}, fmt.Errorf("installation %d has no account login", q.installationID)
	}

	q.account = &installation.Account
	return installation.Account, nil
}

// searchQuery builds the GitHub search query for topic within account.
// fork:true is required because search excludes forks by default.
func searchQuery(account model.Account, topic string) string {
	qualifier := "user"
	if account.IsOrganization() {
		qualifier = "org"
	}
	return fmt.Sprintf("%s:%s topic:%s fork:true", qualifier, account.Login, topic)
}

func allTopicsKnown(repos []model.Repository) bool {
	for _, repo := range repos {
		if !repo.TopicsKnown {
			return false
		}
	}
	return true
}

// Package github implements the InstallationClient and CredentialProvider
// ports using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.InstallationClient = (*Client)(nil)

// Client implements the driven.InstallationClient port. Its transport
// authenticates every request with the installation's access token.
type Client struct {
	gh     *gh.Client
	logger *slog.Logger
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// The http.Client is responsible for authentication. This constructor is
// intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) (*Client, error) {
	client, err := withBaseURL(gh.NewClient(httpClient), baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{gh: client, logger: logger}, nil
}

// ListRepositoriesPage returns one page of the repositories accessible to the
// installation (GET /installation/repositories).
func (c *Client) ListRepositoriesPage(ctx context.Context, page, perPage int) (driven.Page[*model.Repository], error) {
	opts := &gh.ListOptions{Page: page, PerPage: perPage}

	list, resp, err := c.gh.Apps.ListRepos(ctx, opts)
	if err != nil {
		return driven.Page[*model.Repository]{}, apiError(fmt.Sprintf("listing installation repositories (page %d)", page), err)
	}

	c.logRateLimit(resp, "installation/repositories", page, len(list.Repositories))

	items := make([]*model.Repository, 0, len(list.Repositories))
	for _, r := range list.Repositories {
		items = append(items, mapRepository(r))
	}

	return driven.Page[*model.Repository]{Items: items, NextPage: resp.NextPage}, nil
}

// SearchRepositoriesPage runs query against the repository search API and
// returns the ids on the requested page.
func (c *Client) SearchRepositoriesPage(ctx context.Context, query string, page, perPage int) (driven.SearchPage, error) {
	opts := &gh.SearchOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage},
	}

	result, resp, err := c.gh.Search.Repositories(ctx, query, opts)
	if err != nil {
		return driven.SearchPage{}, apiError(fmt.Sprintf("searching repositories %q (page %d)", query, page), err)
	}

	c.logRateLimit(resp, "search/repositories", page, len(result.Repositories))

	ids := make([]int64, 0, len(result.Repositories))
	for _, r := range result.Repositories {
		if r.GetID() != 0 {
			ids = append(ids, r.GetID())
		}
	}

	return driven.SearchPage{
		Page:       driven.Page[int64]{Items: ids, NextPage: resp.NextPage},
		Incomplete: result.GetIncompleteResults(),
	}, nil
}

// apiError wraps err with op. GitHub answers 401 when the installation token
// has been revoked, which is reported as *model.AuthError so callers can drop
// the client and exchange again.
func apiError(op string, err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnauthorized {
		return &model.AuthError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// logRateLimit logs rate limit information from a GitHub API response.
// It warns when the remaining quota drops below 100.
func (c *Client) logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	logRateLimit(c.logger, resp, endpoint, page, count)
}

func logRateLimit(logger *slog.Logger, resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	logger.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapRepository converts a go-github repository into the domain model. It
// returns nil for a nil input. Topics are marked known only when the payload
// carried a topics array, which webhook payloads for membership changes do not.
func mapRepository(r *gh.Repository) *model.Repository {
	if r == nil {
		return nil
	}

	repo := &model.Repository{
		ID:          r.GetID(),
		FullName:    r.GetFullName(),
		Name:        r.GetName(),
		Owner:       r.GetOwner().GetLogin(),
		Archived:    r.GetArchived(),
		Private:     r.GetPrivate(),
		Description: r.GetDescription(),
		HTMLURL:     r.GetHTMLURL(),
	}

	if r.Topics != nil {
		repo.Topics = append([]string{}, r.Topics...)
		repo.TopicsKnown = true
	}

	if repo.Owner == "" || repo.Name == "" {
		if owner, name, err := splitRepo(repo.FullName); err == nil {
			if repo.Owner == "" {
				repo.Owner = owner
			}
			if repo.Name == "" {
				repo.Name = name
			}
		}
	}

	return repo
}

// withBaseURL points client at baseURL. An empty baseURL keeps the public
// GitHub API. A GitHub Enterprise Server URL must include the /api/v3/ path.
func withBaseURL(client *gh.Client, baseURL string) (*gh.Client, error) {
	if baseURL == "" {
		return client, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u
	return client, nil
}

// splitRepo splits "owner/repo" into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

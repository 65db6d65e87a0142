package application_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- InstallationClient ---

type mockInstallationClient struct {
	listPage   func(ctx context.Context, page, perPage int) (driven.Page[*model.Repository], error)
	searchPage func(ctx context.Context, query string, page, perPage int) (driven.SearchPage, error)

	listCalls   atomic.Int32
	searchCalls atomic.Int32

	mu      sync.Mutex
	queries []string
}

func (m *mockInstallationClient) ListRepositoriesPage(ctx context.Context, page, perPage int) (driven.Page[*model.Repository], error) {
	m.listCalls.Add(1)
	return m.listPage(ctx, page, perPage)
}

func (m *mockInstallationClient) SearchRepositoriesPage(ctx context.Context, query string, page, perPage int) (driven.SearchPage, error) {
	m.searchCalls.Add(1)
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	return m.searchPage(ctx, query, page, perPage)
}

func (m *mockInstallationClient) searchQueries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// singlePage returns a list function serving repos as one page.
func singlePage(repos ...*model.Repository) func(context.Context, int, int) (driven.Page[*model.Repository], error) {
	return func(_ context.Context, _, _ int) (driven.Page[*model.Repository], error) {
		return driven.Page[*model.Repository]{Items: repos}, nil
	}
}

// pagedList returns a list function serving pages[i] as page i+1.
func pagedList(pages ...[]*model.Repository) func(context.Context, int, int) (driven.Page[*model.Repository], error) {
	return func(_ context.Context, page, _ int) (driven.Page[*model.Repository], error) {
		result := driven.Page[*model.Repository]{Items: pages[page-1]}
		if page < len(pages) {
			result.NextPage = page + 1
		}
		return result, nil
	}
}

// searchHits returns a search function serving ids as one complete page.
func searchHits(ids ...int64) func(context.Context, string, int, int) (driven.SearchPage, error) {
	return func(_ context.Context, _ string, _, _ int) (driven.SearchPage, error) {
		return driven.SearchPage{Page: driven.Page[int64]{Items: ids}}, nil
	}
}

// --- clientSource ---

type staticClients struct {
	client driven.InstallationClient
	err    error
}

func (s staticClients) Get(_ context.Context) (driven.InstallationClient, error) {
	return s.client, s.err
}

func (s staticClients) Reset() {}

// --- CredentialProvider ---

type mockCredentialProvider struct {
	app                func(ctx context.Context) (model.App, error)
	installations      func(ctx context.Context) ([]model.Installation, error)
	installation       func(ctx context.Context, id int64) (model.Installation, error)
	installationClient func(ctx context.Context, id int64) (driven.InstallationClient, error)

	installationCalls atomic.Int32
	exchangeCalls     atomic.Int32
}

func (m *mockCredentialProvider) App(ctx context.Context) (model.App, error) {
	return m.app(ctx)
}

func (m *mockCredentialProvider) Installations(ctx context.Context) ([]model.Installation, error) {
	return m.installations(ctx)
}

func (m *mockCredentialProvider) Installation(ctx context.Context, id int64) (model.Installation, error) {
	m.installationCalls.Add(1)
	return m.installation(ctx, id)
}

func (m *mockCredentialProvider) InstallationClient(ctx context.Context, id int64) (driven.InstallationClient, error) {
	m.exchangeCalls.Add(1)
	return m.installationClient(ctx, id)
}

// --- repository loader ---

type mockLoader struct {
	load  func(ctx context.Context) ([]model.Repository, error)
	calls atomic.Int32
}

func (m *mockLoader) Load(ctx context.Context) ([]model.Repository, error) {
	m.calls.Add(1)
	return m.load(ctx)
}

// staticLoader always returns a copy of repos.
func staticLoader(repos ...model.Repository) *mockLoader {
	return &mockLoader{load: func(_ context.Context) ([]model.Repository, error) {
		return append([]model.Repository(nil), repos...), nil
	}}
}

// --- DeliveryStore ---

type mockDeliveryStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	pruned  int64
	err     error
}

func (m *mockDeliveryStore) Claim(_ context.Context, _ model.Delivery) (bool, error) {
	return true, nil
}

func (m *mockDeliveryStore) SetOutcome(_ context.Context, _ string, _ model.DeliveryOutcome) error {
	return nil
}

func (m *mockDeliveryStore) ListRecent(_ context.Context, _ int) ([]model.Delivery, error) {
	return nil, nil
}

func (m *mockDeliveryStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.pruned, m.err
}

func (m *mockDeliveryStore) pruneCutoffs() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.cutoffs...)
}

// --- fixtures ---

func repo(id int64, fullName string, topics ...string) model.Repository {
	owner, name := splitFullName(fullName)
	return model.Repository{
		ID:          id,
		FullName:    fullName,
		Owner:       owner,
		Name:        name,
		Topics:      topics,
		TopicsKnown: true,
	}
}

func repoPtr(id int64, fullName string, topics ...string) *model.Repository {
	r := repo(id, fullName, topics...)
	return &r
}

func splitFullName(fullName string) (string, string) {
	for i := range len(fullName) {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return "", fullName
}

func ids(repos []model.Repository) []int64 {
	out := make([]int64, 0, len(repos))
	for _, r := range repos {
		out = append(out, r.ID)
	}
	return out
}

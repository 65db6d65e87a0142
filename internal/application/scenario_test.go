package application_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	githubadapter "github.com/ericfisherdev/tako/internal/adapter/driven/github"
	"github.com/ericfisherdev/tako/internal/application"
	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// fakeInstallationAPI serves GET /installation/repositories over two pages.
// Page one holds an archived repository that must never reach the cache.
func fakeInstallationAPI(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /installation/repositories", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("page") {
		case "", "1":
			next := fmt.Sprintf(`<http://%s/installation/repositories?page=2&per_page=100>; rel="next"`, r.Host)
			w.Header().Set("Link", next)
			fmt.Fprint(w, `{"total_count": 3, "repositories": [
				{"id": 1, "name": "a", "full_name": "acme/a", "topics": ["go"]},
				{"id": 2, "name": "b", "full_name": "acme/b", "archived": true}
			]}`)
		case "2":
			fmt.Fprint(w, `{"total_count": 3, "repositories": [
				{"id": 3, "name": "c", "full_name": "acme/c", "topics": []}
			]}`)
		default:
			http.NotFound(w, r)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScenario_PaginatedFetchThroughGitHubAdapter(t *testing.T) {
	var requests atomic.Int32
	srv := fakeInstallationAPI(t, &requests)

	client, err := githubadapter.NewClientWithHTTPClient(srv.Client(), srv.URL+"/", discardLogger())
	require.NoError(t, err)

	creds := &mockCredentialProvider{
		installationClient: func(_ context.Context, _ int64) (driven.InstallationClient, error) {
			return client, nil
		},
	}
	clients := application.NewClientProvider(creds, testInstallationID)
	cache := application.NewRepositoryCache(application.NewRepositoryFetcher(clients, discardLogger()), discardLogger())

	repos, err := cache.List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3}, ids(repos))
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, model.PhasePopulated, cache.Phase())
	assert.Equal(t, int32(2), requests.Load(), "one request per page")

	assert.Equal(t, "acme", repos[0].Owner)
	assert.True(t, repos[0].TopicsKnown)
	assert.True(t, repos[1].TopicsKnown, "an empty topics array is still known")

	// A second read is served from memory.
	_, err = cache.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, int32(1), creds.exchangeCalls.Load())
}

func TestScenario_WebhookDeltaAfterPopulation(t *testing.T) {
	var requests atomic.Int32
	srv := fakeInstallationAPI(t, &requests)

	client, err := githubadapter.NewClientWithHTTPClient(srv.Client(), srv.URL+"/", discardLogger())
	require.NoError(t, err)

	creds := &mockCredentialProvider{
		installationClient: func(_ context.Context, _ int64) (driven.InstallationClient, error) {
			return client, nil
		},
	}
	clients := application.NewClientProvider(creds, testInstallationID)
	cache := application.NewRepositoryCache(application.NewRepositoryFetcher(clients, discardLogger()), discardLogger())
	listener := application.NewEventListener(cache, discardLogger())

	_, err = cache.List(context.Background())
	require.NoError(t, err)

	payload := []byte(`{
		"action": "removed",
		"installation": {"id": 4242},
		"repositories_removed": [{"id": 1, "name": "a", "full_name": "acme/a"}]
	}`)
	translation, err := githubadapter.TranslateWebhook(githubadapter.EventInstallationRepositories, payload)
	require.NoError(t, err)
	require.NotNil(t, translation.Event)

	outcome := listener.Handle(context.Background(), *translation.Event)
	assert.Equal(t, model.OutcomeApplied, outcome)

	repos, err := cache.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(repos))
	assert.Equal(t, int32(2), requests.Load(), "deltas never refetch")
}

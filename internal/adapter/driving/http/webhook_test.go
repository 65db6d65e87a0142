package httphandler_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/tako/internal/adapter/driving/http"
	"github.com/ericfisherdev/tako/internal/domain/model"
)

const (
	webhookSecret      = "hush"
	testInstallationID = int64(4242)
)

type mockListener struct {
	mu      sync.Mutex
	events  []model.RepositoryEvent
	outcome model.DeliveryOutcome
}

func (m *mockListener) Handle(_ context.Context, event model.RepositoryEvent) model.DeliveryOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if m.outcome == "" {
		return model.OutcomeApplied
	}
	return m.outcome
}

func (m *mockListener) received() []model.RepositoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RepositoryEvent(nil), m.events...)
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type webhookFixture struct {
	mux        http.Handler
	listener   *mockListener
	deliveries *mockDeliveryStore
}

func setupWebhook(t *testing.T) *webhookFixture {
	t.Helper()

	f := &webhookFixture{
		listener:   &mockListener{},
		deliveries: newMockDeliveryStore(),
	}
	wh := httphandler.NewWebhookHandler(webhookSecret, testInstallationID, f.deliveries, f.listener, discardLogger())

	mux := http.NewServeMux()
	httphandler.RegisterWebhookRoutes(mux, wh)
	f.mux = httphandler.ApplyMiddleware(mux, discardLogger())
	return f
}

func (f *webhookFixture) deliver(event, deliveryID, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	if deliveryID != "" {
		req.Header.Set("X-GitHub-Delivery", deliveryID)
	}
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

const addedPayload = `{
	"action": "added",
	"installation": {"id": 4242},
	"repository_selection": "selected",
	"repositories_added": [
		{"id": 7, "name": "api", "full_name": "acme/api", "private": true}
	],
	"repositories_removed": []
}`

func TestWebhook_AppliesInstallationRepositoriesAdded(t *testing.T) {
	f := setupWebhook(t)

	rec := f.deliver("installation_repositories", "d-1", addedPayload, sign(webhookSecret, addedPayload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"applied"}`, rec.Body.String())

	events := f.listener.received()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventRepositoriesAdded, events[0].Kind)
	require.Len(t, events[0].Repositories, 1)
	assert.Equal(t, int64(7), events[0].Repositories[0].ID)
	assert.Equal(t, "acme/api", events[0].Repositories[0].FullName)

	claimed := f.deliveries.claimed["d-1"]
	assert.Equal(t, "installation_repositories", claimed.Event)
	assert.Equal(t, "added", claimed.Action)
	assert.Equal(t, testInstallationID, claimed.InstallationID)
	assert.False(t, claimed.ReceivedAt.IsZero())
	assert.Equal(t, model.OutcomeApplied, f.deliveries.outcome("d-1"))
}

func TestWebhook_RecordsListenerOutcome(t *testing.T) {
	f := setupWebhook(t)
	f.listener.outcome = model.OutcomeDeferred

	rec := f.deliver("installation_repositories", "d-1", addedPayload, sign(webhookSecret, addedPayload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"deferred"}`, rec.Body.String())
	assert.Equal(t, model.OutcomeDeferred, f.deliveries.outcome("d-1"))
}

func TestWebhook_SignatureRejected(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing signature", signature: ""},
		{name: "wrong secret", signature: sign("other", addedPayload)},
		{name: "malformed signature", signature: "sha256=zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupWebhook(t)

			rec := f.deliver("installation_repositories", "d-1", addedPayload, tt.signature)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, f.listener.received())
			assert.Empty(t, f.deliveries.claimed)
		})
	}
}

func TestWebhook_MissingEventHeader(t *testing.T) {
	f := setupWebhook(t)

	rec := f.deliver("", "d-1", addedPayload, sign(webhookSecret, addedPayload))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.listener.received())
}

func TestWebhook_MalformedPayload(t *testing.T) {
	f := setupWebhook(t)
	body := `{"action": "added", "installation": `

	rec := f.deliver("installation_repositories", "d-1", body, sign(webhookSecret, body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.listener.received())
	assert.Empty(t, f.deliveries.claimed, "unparseable deliveries are left for GitHub to retry")
}

func TestWebhook_DuplicateDeliveryNotReprocessed(t *testing.T) {
	f := setupWebhook(t)
	sig := sign(webhookSecret, addedPayload)

	rec := f.deliver("installation_repositories", "d-1", addedPayload, sig)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.deliver("installation_repositories", "d-1", addedPayload, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"duplicate"}`, rec.Body.String())

	assert.Len(t, f.listener.received(), 1)
}

func TestWebhook_LedgerFailureDoesNotBlockProcessing(t *testing.T) {
	f := setupWebhook(t)
	f.deliveries.claimErr = errors.New("database is locked")

	rec := f.deliver("installation_repositories", "d-1", addedPayload, sign(webhookSecret, addedPayload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.listener.received(), 1)
}

func TestWebhook_IgnoredEvents(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		body       string
		wantStatus int
	}{
		{
			name:       "ping",
			event:      "ping",
			body:       `{"zen": "Keep it logically awesome.", "hook_id": 1}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unrelated event type",
			event:      "push",
			body:       `{"ref": "refs/heads/main"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "unhandled action",
			event:      "repository",
			body:       `{"action": "starred", "installation": {"id": 4242}, "repository": {"id": 7, "full_name": "acme/api"}}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "other installation",
			event:      "installation_repositories",
			body:       strings.Replace(addedPayload, `"id": 4242`, `"id": 99`, 1),
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupWebhook(t)

			rec := f.deliver(tt.event, "d-1", tt.body, sign(webhookSecret, tt.body))
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, `{"outcome":"ignored"}`, rec.Body.String())
			assert.Empty(t, f.listener.received())
			assert.Equal(t, model.OutcomeIgnored, f.deliveries.outcome("d-1"))
		})
	}
}

func TestWebhook_InstallationEventPurges(t *testing.T) {
	f := setupWebhook(t)
	f.listener.outcome = model.OutcomePurged
	body := `{"action": "suspend", "installation": {"id": 4242, "account": {"login": "acme"}}}`

	rec := f.deliver("installation", "d-9", body, sign(webhookSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	events := f.listener.received()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventMembershipChanged, events[0].Kind)
	assert.Equal(t, "installation.suspend", events[0].Reason)
	assert.Equal(t, model.OutcomePurged, f.deliveries.outcome("d-9"))
}

func TestWebhook_WithoutDeliveryID(t *testing.T) {
	f := setupWebhook(t)

	for range 2 {
		rec := f.deliver("installation_repositories", "", addedPayload, sign(webhookSecret, addedPayload))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, f.listener.received(), 2, "deliveries without an id cannot be deduplicated")
	assert.Empty(t, f.deliveries.claimed)
}

func TestWebhook_RouteRequiresPost(t *testing.T) {
	f := setupWebhook(t)

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/github", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

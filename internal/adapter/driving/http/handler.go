// Package httphandler is the HTTP driving adapter: the JSON API over the
// repository cache and the GitHub webhook receiver.
package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 500
)

// repositoryCache is satisfied by *application.RepositoryCache.
type repositoryCache interface {
	List(ctx context.Context) ([]model.Repository, error)
	Purge()
}

// repositoryFilter is satisfied by *application.QueryEngine.
type repositoryFilter interface {
	Filter(ctx context.Context, topic string) ([]model.Repository, error)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	cache      repositoryCache
	query      repositoryFilter
	deliveries driven.DeliveryStore
	ready      atomic.Bool
	logger     *slog.Logger
}

// NewHandler creates a Handler. deliveries may be nil, in which case the
// delivery ledger endpoint is not registered.
func NewHandler(
	cache repositoryCache,
	query repositoryFilter,
	deliveries driven.DeliveryStore,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cache:      cache,
		query:      query,
		deliveries: deliveries,
		logger:     logger,
	}
}

// RegisterAPIRoutes registers the repository API on mux. A non-empty
// bearerToken protects every route except the liveness probe. The repository
// routes answer 404 until MarkReady, so only bootstrap can start the first
// cache refresh.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler, bearerToken string) {
	mux.HandleFunc("GET /__gtg", h.GoodToGo)
	mux.HandleFunc("GET /repositories", h.whenReady(bearerAuth(bearerToken, noCache(h.ListRepositories))))
	mux.HandleFunc("DELETE /repositories", h.whenReady(bearerAuth(bearerToken, noCache(h.PurgeRepositories))))

	if h.deliveries != nil {
		mux.HandleFunc("GET /deliveries", bearerAuth(bearerToken, noCache(h.ListDeliveries)))
	}
}

// MarkReady flips the liveness probe to healthy. Called once bootstrap completes.
func (h *Handler) MarkReady() {
	h.ready.Store(true)
}

// whenReady answers 404 until MarkReady has been called.
func (h *Handler) whenReady(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			http.NotFound(w, r)
			return
		}
		next(w, r)
	}
}

// GoodToGo answers 200 OK once the process has bootstrapped and 404 before.
func (h *Handler) GoodToGo(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ListRepositories returns every managed repository, or only those carrying
// the topic query parameter when it is present.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	var (
		repos []model.Repository
		err   error
	)

	if topic, ok := r.URL.Query()["topic"]; ok {
		repos, err = h.query.Filter(r.Context(), topic[0])
	} else {
		repos, err = h.cache.List(r.Context())
	}

	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to list repositories", "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, toRepositoryList(repos))
}

// PurgeRepositories discards the cache. The next read refetches from GitHub.
func (h *Handler) PurgeRepositories(w http.ResponseWriter, r *http.Request) {
	h.cache.Purge()
	h.logger.InfoContext(r.Context(), "repository cache purged", "reason", "api request")

	writeJSON(w, http.StatusOK, toRepositoryList(nil))
}

// ListDeliveries returns the most recent webhook deliveries from the ledger.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit: expected a positive integer")
			return
		}
		limit = min(n, maxDeliveryLimit)
	}

	deliveries, err := h.deliveries.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := DeliveryListResponse{Deliveries: make([]DeliveryResponse, 0, len(deliveries))}
	for _, d := range deliveries {
		resp.Deliveries = append(resp.Deliveries, toDeliveryResponse(d))
	}

	writeJSON(w, http.StatusOK, resp)
}

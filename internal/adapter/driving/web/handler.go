// Package web implements the HTML dashboard driving adapter using templ components.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ericfisherdev/tako/internal/adapter/driving/web/templates"
	"github.com/ericfisherdev/tako/internal/adapter/driving/web/templates/pages"
	"github.com/ericfisherdev/tako/internal/domain/model"
)

// repositoryCache is satisfied by *application.RepositoryCache.
type repositoryCache interface {
	List(ctx context.Context) ([]model.Repository, error)
	Phase() model.CachePhase
}

// resyncer is satisfied by *application.MaintenanceService.
type resyncer interface {
	Resync(ctx context.Context) error
}

// Handler is the web GUI driving adapter that serves HTML via templ components.
type Handler struct {
	cache  repositoryCache
	resync resyncer
	logger *slog.Logger
}

// NewHandler creates a Handler. resync may be nil, which hides the resync
// control and leaves POST /resync unregistered.
func NewHandler(cache repositoryCache, resync resyncer, logger *slog.Logger) *Handler {
	return &Handler{
		cache:  cache,
		resync: resync,
		logger: logger,
	}
}

// Dashboard renders the managed repositories with the full HTML layout.
// Reading the list warms the cache if it was purged.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	token := csrfToken(w, r)

	status := http.StatusOK
	repos, err := h.cache.List(r.Context())
	data := toDashboardViewModel(h.cache.Phase(), repos)
	data.Notice, data.Error = noticeFor(r.URL.Query().Get("resync"))
	if err != nil {
		h.logger.Error("failed to list repositories for dashboard", "error", err)
		status = http.StatusBadGateway
		data.Error = "Could not load repositories from GitHub."
	}
	data.CanResync = h.resync != nil
	data.CSRFToken = token

	layout := templates.Layout("tako", pages.Dashboard(data))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "max-age=0, no-cache")
	w.WriteHeader(status)
	if err := layout.Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
	}
}

// Resync purges and re-warms the cache, then redirects to the dashboard.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		http.Error(w, "invalid csrf token", http.StatusForbidden)
		return
	}

	target := "/?resync=ok"
	if err := h.resync.Resync(r.Context()); err != nil {
		h.logger.Error("dashboard resync failed", "error", err)
		target = "/?resync=failed"
	}

	http.Redirect(w, r, target, http.StatusSeeOther)
}

package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/tako/internal/adapter/driven/github"
	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// maxWebhookBodySize matches the largest payload GitHub will deliver.
const maxWebhookBodySize = 25 << 20

// eventHandler is satisfied by *application.EventListener.
type eventHandler interface {
	Handle(ctx context.Context, event model.RepositoryEvent) model.DeliveryOutcome
}

// webhookResponse is the body returned to GitHub for accepted deliveries.
type webhookResponse struct {
	Outcome string `json:"outcome"`
}

// WebhookHandler receives GitHub App webhooks, verifies their signature,
// records them in the delivery ledger and hands repository lifecycle
// events to the event listener.
type WebhookHandler struct {
	secret         []byte
	installationID int64
	deliveries     driven.DeliveryStore
	listener       eventHandler
	logger         *slog.Logger
	now            func() time.Time
}

// NewWebhookHandler creates a WebhookHandler. deliveries may be nil, which
// disables redelivery detection.
func NewWebhookHandler(
	secret string,
	installationID int64,
	deliveries driven.DeliveryStore,
	listener eventHandler,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		secret:         []byte(secret),
		installationID: installationID,
		deliveries:     deliveries,
		listener:       listener,
		logger:         logger,
		now:            time.Now,
	}
}

// RegisterWebhookRoutes registers the webhook receiver on mux.
func RegisterWebhookRoutes(mux *http.ServeMux, wh *WebhookHandler) {
	mux.Handle("POST /webhooks/github", wh)
}

// ServeHTTP handles a single webhook delivery.
func (wh *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)

	payload, err := gh.ValidatePayload(r, wh.secret)
	if err != nil {
		wh.logger.Warn("webhook signature verification failed",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := gh.WebHookType(r)
	if eventType == "" {
		writeError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}
	deliveryID := gh.DeliveryID(r)

	translation, err := github.TranslateWebhook(eventType, payload)
	if err != nil {
		wh.logger.Warn("webhook payload rejected",
			"event", eventType,
			"delivery_id", deliveryID,
			"error", err,
		)
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	ctx := r.Context()
	if !wh.claim(ctx, deliveryID, eventType, translation) {
		wh.logger.Debug("duplicate webhook delivery ignored",
			"event", eventType,
			"delivery_id", deliveryID,
		)
		writeJSON(w, http.StatusOK, webhookResponse{Outcome: "duplicate"})
		return
	}

	if translation.Event == nil {
		wh.record(ctx, deliveryID, model.OutcomeIgnored)
		status := http.StatusAccepted
		if eventType == github.EventPing {
			status = http.StatusOK
		}
		writeJSON(w, status, webhookResponse{Outcome: string(model.OutcomeIgnored)})
		return
	}

	if translation.InstallationID != 0 && translation.InstallationID != wh.installationID {
		wh.logger.Info("webhook for another installation ignored",
			"event", eventType,
			"delivery_id", deliveryID,
			"installation_id", translation.InstallationID,
		)
		wh.record(ctx, deliveryID, model.OutcomeIgnored)
		writeJSON(w, http.StatusAccepted, webhookResponse{Outcome: string(model.OutcomeIgnored)})
		return
	}

	outcome := wh.listener.Handle(ctx, *translation.Event)
	wh.record(ctx, deliveryID, outcome)

	wh.logger.Info("webhook processed",
		"event", eventType,
		"action", translation.Action,
		"delivery_id", deliveryID,
		"outcome", string(outcome),
	)
	writeJSON(w, http.StatusOK, webhookResponse{Outcome: string(outcome)})
}

// claim records the delivery in the ledger and reports whether it should be
// processed. Ledger failures are logged and never block processing.
func (wh *WebhookHandler) claim(ctx context.Context, deliveryID, eventType string, t github.WebhookTranslation) bool {
	if wh.deliveries == nil || deliveryID == "" {
		return true
	}

	claimed, err := wh.deliveries.Claim(ctx, model.Delivery{
		ID:             deliveryID,
		Event:          eventType,
		Action:         t.Action,
		InstallationID: t.InstallationID,
		Outcome:        model.OutcomeReceived,
		ReceivedAt:     wh.now(),
	})
	if err != nil {
		wh.logger.Error("failed to record webhook delivery", "delivery_id", deliveryID, "error", err)
		return true
	}

	return claimed
}

// record stores the processing outcome for a claimed delivery.
func (wh *WebhookHandler) record(ctx context.Context, deliveryID string, outcome model.DeliveryOutcome) {
	if wh.deliveries == nil || deliveryID == "" {
		return
	}

	if err := wh.deliveries.SetOutcome(ctx, deliveryID, outcome); err != nil {
		wh.logger.Error("failed to record webhook outcome",
			"delivery_id", deliveryID,
			"outcome", string(outcome),
			"error", err,
		)
	}
}

package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/tako/internal/domain/model"
)

// ErrDeliveryNotFound indicates no delivery with the given id was recorded.
var ErrDeliveryNotFound = errors.New("delivery not found")

// DeliveryStore defines the driven port for the webhook delivery ledger.
type DeliveryStore interface {
	// Claim records a delivery. It returns false without error when a delivery
	// with the same id was already recorded.
	Claim(ctx context.Context, delivery model.Delivery) (bool, error)

	// SetOutcome updates the outcome of a previously claimed delivery.
	// Returns ErrDeliveryNotFound if the delivery was never claimed.
	SetOutcome(ctx context.Context, deliveryID string, outcome model.DeliveryOutcome) error

	// ListRecent returns up to limit deliveries, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.Delivery, error)

	// PruneBefore deletes deliveries received before cutoff and returns how
	// many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DeliveryStore = (*DeliveryRepo)(nil)

// DeliveryRepo is the SQLite implementation of the DeliveryStore port.
// Timestamps are stored as Unix milliseconds so range deletes use the index.
type DeliveryRepo struct {
	db *DB
}

// NewDeliveryRepo creates a new DeliveryRepo backed by the given DB.
func NewDeliveryRepo(db *DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

// Claim inserts the delivery unless one with the same id exists. It returns
// true when this call recorded the delivery.
func (r *DeliveryRepo) Claim(ctx context.Context, d model.Delivery) (bool, error) {
	const query = `
		INSERT INTO webhook_deliveries (delivery_id, event, action, installation_id, outcome, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(delivery_id) DO NOTHING`

	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	outcome := d.Outcome
	if outcome == "" {
		outcome = model.OutcomeReceived
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		d.ID, d.Event, d.Action, d.InstallationID, string(outcome), receivedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", d.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}

	return rows == 1, nil
}

// SetOutcome records what processing the delivery did.
func (r *DeliveryRepo) SetOutcome(ctx context.Context, deliveryID string, outcome model.DeliveryOutcome) error {
	const query = `UPDATE webhook_deliveries SET outcome = ? WHERE delivery_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, string(outcome), deliveryID)
	if err != nil {
		return fmt.Errorf("set outcome for delivery %s: %w", deliveryID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set outcome for delivery %s: %w", deliveryID, driven.ErrDeliveryNotFound)
	}

	return nil
}

// ListRecent returns up to limit deliveries, newest first.
func (r *DeliveryRepo) ListRecent(ctx context.Context, limit int) ([]model.Delivery, error) {
	const query = `
		SELECT delivery_id, event, action, installation_id, outcome, received_at
		FROM webhook_deliveries
		ORDER BY received_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []model.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, nil
}

// PruneBefore deletes deliveries received before cutoff.
func (r *DeliveryRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM webhook_deliveries WHERE received_at < ?`

	result, err := r.db.Writer.ExecContext(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return rows, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(s scanner) (model.Delivery, error) {
	var (
		d          model.Delivery
		outcome    string
		receivedAt int64
	)

	if err := s.Scan(&d.ID, &d.Event, &d.Action, &d.InstallationID, &outcome, &receivedAt); err != nil {
		return model.Delivery{}, err
	}

	d.Outcome = model.DeliveryOutcome(outcome)
	d.ReceivedAt = time.UnixMilli(receivedAt).UTC()
	return d, nil
}

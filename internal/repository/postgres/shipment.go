package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
)

type shipmentRepository struct {
	db *sqlx.DB
}

func NewShipmentRepository(db *sqlx.DB) repository.ShipmentRepository {
	return &shipmentRepository{db: db}
}

func (r *shipmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	query := `
		SELECT id, tracking_number, order_id, shop_id, customer_id, status,
		       assigned_courier_id, cod_amount, cod_collected,
		       delivery_photo_url, signature_url, failure_reason, failure_note,
		       delivery_attempts, picked_up_at, delivered_at, created_at, updated_at
		FROM shipments
		WHERE id = $1
	`
	var shipment model.Shipment
	if err := r.db.GetContext(ctx, &shipment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	return &shipment, nil
}

// UpdateStatusIf applies patch only when the row still has expectedStatus
// (and, when expectedCourier is non-nil, is still owned by that courier).
// The WHERE clause is the sole mutual-exclusion mechanism for concurrent
// transitions; the loser gets ErrNoRowsAffected and must re-read.
func (r *shipmentRepository) UpdateStatusIf(ctx context.Context, id uuid.UUID, expectedStatus model.ShipmentStatus, expectedCourier *uuid.UUID, patch *model.ShipmentPatch) (*model.Shipment, error) {
	sets := []string{"status = :status", "updated_at = :updated_at"}
	args := map[string]interface{}{
		"id":              id,
		"expected_status": expectedStatus,
		"status":          patch.Status,
		"updated_at":      time.Now(),
	}

	if patch.ClearCourier {
		sets = append(sets, "assigned_courier_id = NULL")
	} else if patch.AssignedCourierID != nil {
		sets = append(sets, "assigned_courier_id = :assigned_courier_id")
		args["assigned_courier_id"] = *patch.AssignedCourierID
	}
	if patch.CODCollected != nil {
		sets = append(sets, "cod_collected = :cod_collected")
		args["cod_collected"] = *patch.CODCollected
	}
	if patch.DeliveryPhotoURL != nil {
		sets = append(sets, "delivery_photo_url = :delivery_photo_url")
		args["delivery_photo_url"] = *patch.DeliveryPhotoURL
	}
	if patch.SignatureURL != nil {
		sets = append(sets, "signature_url = :signature_url")
		args["signature_url"] = *patch.SignatureURL
	}
	if patch.FailureReason != nil {
		sets = append(sets, "failure_reason = :failure_reason")
		args["failure_reason"] = *patch.FailureReason
	}
	if patch.FailureNote != nil {
		sets = append(sets, "failure_note = :failure_note")
		args["failure_note"] = *patch.FailureNote
	}
	if patch.IncrementAttempts {
		sets = append(sets, "delivery_attempts = delivery_attempts + 1")
	}
	if patch.PickedUpAt != nil {
		sets = append(sets, "picked_up_at = :picked_up_at")
		args["picked_up_at"] = *patch.PickedUpAt
	}
	if patch.DeliveredAt != nil {
		sets = append(sets, "delivered_at = :delivered_at")
		args["delivered_at"] = *patch.DeliveredAt
	}

	conditions := []string{"id = :id", "status = :expected_status"}
	if expectedCourier != nil {
		conditions = append(conditions, "assigned_courier_id = :expected_courier")
		args["expected_courier"] = *expectedCourier
	}

	query := fmt.Sprintf(
		"UPDATE shipments SET %s WHERE %s",
		strings.Join(sets, ", "),
		strings.Join(conditions, " AND "),
	)

	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to update shipment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, repository.ErrNoRowsAffected
	}

	return r.Get(ctx, id)
}

func (r *shipmentRepository) AppendHistory(ctx context.Context, event *model.ShipmentHistoryEvent) error {
	query := `
		INSERT INTO shipment_history (
			id, shipment_id, action, from_status, to_status, actor_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.ShipmentID,
		event.Action,
		event.FromStatus,
		event.ToStatus,
		event.ActorID,
		event.Note,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append shipment history: %w", err)
	}
	return nil
}

func (r *shipmentRepository) ListByCourier(ctx context.Context, courierID uuid.UUID, statuses []model.ShipmentStatus) ([]*model.Shipment, error) {
	query := `
		SELECT id, tracking_number, order_id, shop_id, customer_id, status,
		       assigned_courier_id, cod_amount, cod_collected,
		       delivery_photo_url, signature_url, failure_reason, failure_note,
		       delivery_attempts, picked_up_at, delivered_at, created_at, updated_at
		FROM shipments
		WHERE assigned_courier_id = ?
	`
	args := []interface{}{courierID}
	if len(statuses) > 0 {
		query += " AND status IN (?)"
		var err error
		query, args, err = sqlx.In(query, courierID, statuses)
		if err != nil {
			return nil, fmt.Errorf("failed to build query: %w", err)
		}
	}
	query += " ORDER BY created_at DESC"
	query = r.db.Rebind(query)

	var shipments []*model.Shipment
	if err := r.db.SelectContext(ctx, &shipments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	return shipments, nil
}

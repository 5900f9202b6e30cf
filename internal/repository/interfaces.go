package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/dispatch-api/internal/model"
)

// ErrNoRowsAffected signals a conditional write whose precondition no longer
// held. ErrNotFound signals a lookup miss. Services translate both into the
// caller-facing taxonomy.
var (
	ErrNoRowsAffected = errors.New("no rows affected")
	ErrNotFound       = errors.New("not found")
)

// All repository interfaces in one file
type (
	// ShipmentRepository is the durable shipment store. UpdateStatusIf is the
	// only mutation path for lifecycle fields: it applies the patch in a
	// single conditional write keyed on (id, expectedStatus, expectedCourier)
	// and reports ErrNoRowsAffected when the precondition no longer holds.
	ShipmentRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Shipment, error)
		UpdateStatusIf(ctx context.Context, id uuid.UUID, expectedStatus model.ShipmentStatus, expectedCourier *uuid.UUID, patch *model.ShipmentPatch) (*model.Shipment, error)
		AppendHistory(ctx context.Context, event *model.ShipmentHistoryEvent) error
		ListByCourier(ctx context.Context, courierID uuid.UUID, statuses []model.ShipmentStatus) ([]*model.Shipment, error)
	}

	// CODLedgerRepository keeps the per-courier daily cash-on-delivery total.
	CODLedgerRepository interface {
		Add(ctx context.Context, courierID uuid.UUID, day time.Time, amount int64) error
		Total(ctx context.Context, courierID uuid.UUID, day time.Time) (int64, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, notification *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		List(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*model.Notification, error)
		MarkRead(ctx context.Context, id, recipientID uuid.UUID) error
		MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
		UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error)
	}

	DeviceTokenRepository interface {
		Register(ctx context.Context, token *model.DeviceToken) error
		ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error)
		ListActiveByUsers(ctx context.Context, userIDs []uuid.UUID) ([]*model.DeviceToken, error)
		MarkInvalid(ctx context.Context, token string) error
		TouchLastUsed(ctx context.Context, token string) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// LocationCache holds the latest known position per courier and per
	// shipment, plus the ephemeral courier session. Entries expire on TTL.
	LocationCache interface {
		SetPosition(ctx context.Context, sample *model.PositionSample, ttl time.Duration) error
		GetCourierPosition(ctx context.Context, courierID uuid.UUID) (*model.PositionSample, error)
		GetShipmentPosition(ctx context.Context, shipmentID uuid.UUID) (*model.PositionSample, error)
		SetSession(ctx context.Context, session *model.CourierSession, ttl time.Duration) error
		GetSession(ctx context.Context, courierID uuid.UUID) (*model.CourierSession, error)
		DeleteSession(ctx context.Context, courierID uuid.UUID) error
	}

	// MatchingQueue re-enqueues shipments for dispatch after a rejection.
	MatchingQueue interface {
		Enqueue(ctx context.Context, shipmentID uuid.UUID) error
	}
)

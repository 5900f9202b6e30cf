package model

import (
	"time"

	"github.com/google/uuid"
)

type ShipmentStatus string

const (
	ShipmentStatusAssigned   ShipmentStatus = "assigned"
	ShipmentStatusPickedUp   ShipmentStatus = "picked_up"
	ShipmentStatusDelivering ShipmentStatus = "delivering"
	ShipmentStatusDelivered  ShipmentStatus = "delivered"
	ShipmentStatusFailed     ShipmentStatus = "failed"
)

type FailureReason string

const (
	FailureReasonCustomerNotAvailable FailureReason = "customer_not_available"
	FailureReasonWrongAddress         FailureReason = "wrong_address"
	FailureReasonCustomerRefused      FailureReason = "customer_refused"
	FailureReasonCustomerRescheduled  FailureReason = "customer_rescheduled"
	FailureReasonDamagedPackage       FailureReason = "damaged_package"
	FailureReasonOther                FailureReason = "other"
)

// ValidFailureReasons is the closed set accepted on a failed delivery attempt.
var ValidFailureReasons = map[FailureReason]bool{
	FailureReasonCustomerNotAvailable: true,
	FailureReasonWrongAddress:         true,
	FailureReasonCustomerRefused:      true,
	FailureReasonCustomerRescheduled:  true,
	FailureReasonDamagedPackage:       true,
	FailureReasonOther:                true,
}

// Shipment is one parcel's delivery record. AssignedCourierID is the
// exclusive owner while the shipment is assigned; ownership changes go
// through conditional updates keyed on the current status.
type Shipment struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	TrackingNumber    string         `json:"tracking_number" db:"tracking_number"`
	OrderID           uuid.UUID      `json:"order_id" db:"order_id"`
	ShopID            uuid.UUID      `json:"shop_id" db:"shop_id"`
	CustomerID        uuid.UUID      `json:"customer_id" db:"customer_id"`
	Status            ShipmentStatus `json:"status" db:"status"`
	AssignedCourierID *uuid.UUID     `json:"assigned_courier_id,omitempty" db:"assigned_courier_id"`
	CODAmount         int64          `json:"cod_amount" db:"cod_amount"`
	CODCollected      bool           `json:"cod_collected" db:"cod_collected"`
	DeliveryPhotoURL  *string        `json:"delivery_photo_url,omitempty" db:"delivery_photo_url"`
	SignatureURL      *string        `json:"signature_url,omitempty" db:"signature_url"`
	FailureReason     *FailureReason `json:"failure_reason,omitempty" db:"failure_reason"`
	FailureNote       *string        `json:"failure_note,omitempty" db:"failure_note"`
	DeliveryAttempts  int            `json:"delivery_attempts" db:"delivery_attempts"`
	PickedUpAt        *time.Time     `json:"picked_up_at,omitempty" db:"picked_up_at"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// StatusEvidence carries the proof a courier submits with a status update.
type StatusEvidence struct {
	PhotoURL     string        `json:"photo_url,omitempty"`
	SignatureURL string        `json:"signature_url,omitempty"`
	CODCollected bool          `json:"cod_collected,omitempty"`
	Reason       FailureReason `json:"reason,omitempty"`
	Note         string        `json:"note,omitempty"`
	Lat          *float64      `json:"lat,omitempty"`
	Lng          *float64      `json:"lng,omitempty"`
}

// ShipmentPatch is the set of columns a conditional update may change
// alongside the status column. Nil fields are left untouched.
type ShipmentPatch struct {
	Status            ShipmentStatus
	AssignedCourierID *uuid.UUID
	ClearCourier      bool
	CODCollected      *bool
	DeliveryPhotoURL  *string
	SignatureURL      *string
	FailureReason     *FailureReason
	FailureNote       *string
	IncrementAttempts bool
	PickedUpAt        *time.Time
	DeliveredAt       *time.Time
}

// ShipmentHistoryEvent is one append-only audit record on a shipment.
type ShipmentHistoryEvent struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	ShipmentID uuid.UUID      `json:"shipment_id" db:"shipment_id"`
	Action     string         `json:"action" db:"action"`
	FromStatus ShipmentStatus `json:"from_status" db:"from_status"`
	ToStatus   ShipmentStatus `json:"to_status" db:"to_status"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty" db:"actor_id"`
	Note       *string        `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// ShipmentStatusEvent is the domain event emitted once per successful
// transition, consumed asynchronously by the notification dispatcher.
type ShipmentStatusEvent struct {
	ShipmentID     uuid.UUID      `json:"shipment_id"`
	TrackingNumber string         `json:"tracking_number"`
	OrderID        uuid.UUID      `json:"order_id"`
	ShopID         uuid.UUID      `json:"shop_id"`
	CustomerID     uuid.UUID      `json:"customer_id"`
	FromStatus     ShipmentStatus `json:"from_status"`
	ToStatus       ShipmentStatus `json:"to_status"`
	CourierID      uuid.UUID      `json:"courier_id"`
	FailureReason  *FailureReason `json:"failure_reason,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

const EventTypeShipmentStatusChanged = "shipment.status_changed"

type ShipmentRejectedEvent struct {
	ShipmentID     uuid.UUID `json:"shipment_id"`
	TrackingNumber string    `json:"tracking_number"`
	ShopID         uuid.UUID `json:"shop_id"`
	CourierID      uuid.UUID `json:"courier_id"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

const EventTypeShipmentRejected = "shipment.rejected"

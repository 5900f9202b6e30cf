package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationTypeShipmentPickedUp   NotificationType = "shipment_picked_up"
	NotificationTypeShipmentDelivering NotificationType = "shipment_delivering"
	NotificationTypeShipmentDelivered  NotificationType = "shipment_delivered"
	NotificationTypeShipmentFailed     NotificationType = "shipment_failed"
	NotificationTypeShipmentRejected   NotificationType = "shipment_rejected"
)

// Notification is one in-app notification row. It is created exactly once
// per fan-out target and is immutable apart from the read transition.
type Notification struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	RecipientID uuid.UUID        `json:"recipient_id" db:"recipient_id"`
	Type        NotificationType `json:"type" db:"type"`
	Title       string           `json:"title" db:"title"`
	Body        string           `json:"body" db:"body"`
	Payload     json.RawMessage  `json:"payload,omitempty" db:"payload"`
	IsRead      bool             `json:"is_read" db:"is_read"`
	ReadAt      *time.Time       `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

type DevicePlatform string

const (
	DevicePlatformIOS     DevicePlatform = "ios"
	DevicePlatformAndroid DevicePlatform = "android"
)

// DeviceToken addresses one installed app instance. Tokens reported invalid
// by the push provider are marked inactive, never hard-deleted.
type DeviceToken struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	UserID     uuid.UUID      `json:"user_id" db:"user_id"`
	Token      string         `json:"token" db:"token"`
	Platform   DevicePlatform `json:"platform" db:"platform"`
	IsActive   bool           `json:"is_active" db:"is_active"`
	LastUsedAt time.Time      `json:"last_used_at" db:"last_used_at"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// SendResult is the aggregate outcome of one fan-out. Zero devices and
// all-pushes-failed are both successful sends; the row is persisted either
// way.
type SendResult struct {
	SentCount    int           `json:"sent_count"`
	FailedCount  int           `json:"failed_count"`
	TotalDevices int           `json:"total_devices"`
	Notification *Notification `json:"notification"`
}

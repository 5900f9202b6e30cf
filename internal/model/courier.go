package model

import (
	"time"

	"github.com/google/uuid"
)

// CourierSession is the ephemeral online state of a courier. It is kept in
// the location cache with a sliding TTL and never persisted durably.
type CourierSession struct {
	CourierID uuid.UUID `json:"courier_id"`
	OnlineAt  time.Time `json:"online_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// PositionSample is a single last-value-wins location reading. Samples are
// not versioned; consumers render only the freshest one per key.
type PositionSample struct {
	CourierID  uuid.UUID  `json:"courier_id"`
	ShipmentID *uuid.UUID `json:"shipment_id,omitempty"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Heading    float64    `json:"heading"`
	Speed      float64    `json:"speed"`
	Timestamp  time.Time  `json:"timestamp"`
}

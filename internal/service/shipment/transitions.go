package shipment

import (
	"github.com/courierhq/dispatch-api/internal/model"
)

// predecessors defines the only legal edges of the shipment state machine:
// assigned -> picked_up -> delivering -> {delivered | failed}.
var predecessors = map[model.ShipmentStatus]model.ShipmentStatus{
	model.ShipmentStatusPickedUp:   model.ShipmentStatusAssigned,
	model.ShipmentStatusDelivering: model.ShipmentStatusPickedUp,
	model.ShipmentStatusDelivered:  model.ShipmentStatusDelivering,
	model.ShipmentStatusFailed:     model.ShipmentStatusDelivering,
}

// expectedPredecessor returns the status a shipment must currently hold for
// the requested status to be reachable.
func expectedPredecessor(requested model.ShipmentStatus) (model.ShipmentStatus, bool) {
	from, ok := predecessors[requested]
	return from, ok
}

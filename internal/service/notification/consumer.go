package notification

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/pkg/logger"
	"github.com/courierhq/dispatch-api/pkg/messaging"
)

// statusTemplates maps a post-transition status to the notification rendered
// for it. Data keys come from the domain event.
var statusTemplates = map[model.ShipmentStatus]struct {
	Type     model.NotificationType
	Template *Template
}{
	model.ShipmentStatusPickedUp: {
		Type: model.NotificationTypeShipmentPickedUp,
		Template: &Template{
			Title: "Order picked up",
			Body:  "Your order {{tracking_number}} has been picked up and is on its way.",
		},
	},
	model.ShipmentStatusDelivering: {
		Type: model.NotificationTypeShipmentDelivering,
		Template: &Template{
			Title: "Out for delivery",
			Body:  "Your order {{tracking_number}} is out for delivery.",
		},
	},
	model.ShipmentStatusDelivered: {
		Type: model.NotificationTypeShipmentDelivered,
		Template: &Template{
			Title: "Order delivered",
			Body:  "Your order {{tracking_number}} has been delivered.",
		},
	},
	model.ShipmentStatusFailed: {
		Type: model.NotificationTypeShipmentFailed,
		Template: &Template{
			Title: "Delivery attempt failed",
			Body:  "Delivery of {{tracking_number}} failed: {{reason}}. We will retry soon.",
		},
	},
}

var rejectedTemplate = &Template{
	Title: "Shipment needs a new courier",
	Body:  "Shipment {{tracking_number}} was declined by the courier and is being reassigned.",
}

// Consumer turns shipment domain events into notification fan-outs. It runs
// in the worker binary, decoupled from the request path that produced the
// event.
type Consumer struct {
	service *Service
	broker  messaging.Broker
	logger  *logger.Logger
}

func NewConsumer(service *Service, broker messaging.Broker, l *logger.Logger) *Consumer {
	return &Consumer{
		service: service,
		broker:  broker,
		logger:  l,
	}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	statusCh, err := c.broker.Subscribe(ctx, model.EventTypeShipmentStatusChanged)
	if err != nil {
		return err
	}
	rejectedCh, err := c.broker.Subscribe(ctx, model.EventTypeShipmentRejected)
	if err != nil {
		return err
	}

	c.logger.Info("notification consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-statusCh:
			if !ok {
				return nil
			}
			c.handleStatusChanged(ctx, payload)
		case payload, ok := <-rejectedCh:
			if !ok {
				return nil
			}
			c.handleRejected(ctx, payload)
		}
	}
}

func (c *Consumer) handleStatusChanged(ctx context.Context, payload []byte) {
	var event model.ShipmentStatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Error(err, "failed to unmarshal status event")
		return
	}

	entry, ok := statusTemplates[event.ToStatus]
	if !ok {
		return
	}

	data := map[string]interface{}{
		"tracking_number": event.TrackingNumber,
		"status":          string(event.ToStatus),
	}
	if event.FailureReason != nil {
		data["reason"] = string(*event.FailureReason)
	}
	title, body := Render(entry.Template, data)

	eventPayload, err := json.Marshal(map[string]string{
		"shipment_id":     event.ShipmentID.String(),
		"tracking_number": event.TrackingNumber,
		"status":          string(event.ToStatus),
	})
	if err != nil {
		c.logger.Error(err, "failed to marshal notification payload")
		return
	}

	recipients := []uuid.UUID{event.CustomerID, event.ShopID}
	result, err := c.service.SendBulk(ctx, recipients, entry.Type, Content{
		Title:   title,
		Body:    body,
		Payload: eventPayload,
	})
	if err != nil {
		c.logger.Error(err, "failed to fan out status notification",
			"shipment_id", event.ShipmentID.String(), "to_status", string(event.ToStatus))
		return
	}
	c.logger.Debug("status notification dispatched",
		"shipment_id", event.ShipmentID.String(),
		"sent", result.SentCount, "failed", result.FailedCount, "devices", result.TotalDevices)
}

func (c *Consumer) handleRejected(ctx context.Context, payload []byte) {
	var event model.ShipmentRejectedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Error(err, "failed to unmarshal rejection event")
		return
	}

	title, body := Render(rejectedTemplate, map[string]interface{}{
		"tracking_number": event.TrackingNumber,
		"reason":          event.Reason,
	})
	eventPayload, err := json.Marshal(map[string]string{
		"shipment_id":     event.ShipmentID.String(),
		"tracking_number": event.TrackingNumber,
	})
	if err != nil {
		c.logger.Error(err, "failed to marshal notification payload")
		return
	}

	// The rejecting courier is notified in-app too, as confirmation.
	if _, err := c.service.Send(ctx, event.CourierID, model.NotificationTypeShipmentRejected, Content{
		Title:   "Shipment released",
		Body:    "You are no longer assigned to shipment " + event.TrackingNumber + ".",
		Payload: eventPayload,
	}); err != nil {
		c.logger.Error(err, "failed to notify courier of rejection", "shipment_id", event.ShipmentID.String())
	}

	// Shop side: the parcel is waiting for a new courier.
	if _, err := c.service.Send(ctx, event.ShopID, model.NotificationTypeShipmentRejected, Content{
		Title:   title,
		Body:    body,
		Payload: eventPayload,
	}); err != nil {
		c.logger.Error(err, "failed to notify shop of rejection", "shipment_id", event.ShipmentID.String())
	}
}

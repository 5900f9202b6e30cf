package shipment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
	apperrors "github.com/courierhq/dispatch-api/pkg/errors"
	"github.com/courierhq/dispatch-api/pkg/logger"
	"github.com/courierhq/dispatch-api/pkg/metrics"
)

// EventEmitter stages a domain event for asynchronous delivery. Emission is
// best-effort from the transition's point of view; a failed emit is logged,
// never surfaced.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload interface{}) error
}

type Service struct {
	repo      repository.ShipmentRepository
	codLedger repository.CODLedgerRepository
	queue     repository.MatchingQueue
	emitter   EventEmitter
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewService(
	repo repository.ShipmentRepository,
	codLedger repository.CODLedgerRepository,
	queue repository.MatchingQueue,
	emitter EventEmitter,
	m *metrics.Metrics,
	l *logger.Logger,
) *Service {
	return &Service{
		repo:      repo,
		codLedger: codLedger,
		queue:     queue,
		emitter:   emitter,
		metrics:   m,
		logger:    l,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	shipment, err := s.repo.Get(ctx, id)
	if err != nil {
		if apperrors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("shipment", err)
		}
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	return shipment, nil
}

func (s *Service) ListForCourier(ctx context.Context, courierID uuid.UUID, statuses []model.ShipmentStatus) ([]*model.Shipment, error) {
	return s.repo.ListByCourier(ctx, courierID, statuses)
}

// ApplyStatusUpdate moves a shipment one step along the state machine. All
// validation runs against a fresh read, but correctness under concurrency
// comes from the conditional write: two racing updates for the same shipment
// cannot both match the expected current status.
func (s *Service) ApplyStatusUpdate(ctx context.Context, shipmentID uuid.UUID, requested model.ShipmentStatus, courierID uuid.UUID, evidence model.StatusEvidence) (*model.Shipment, error) {
	shipment, err := s.Get(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	if shipment.AssignedCourierID == nil || *shipment.AssignedCourierID != courierID {
		return nil, apperrors.Forbidden("courier is not assigned to this shipment")
	}

	expected, ok := expectedPredecessor(requested)
	if !ok || shipment.Status != expected {
		return nil, apperrors.InvalidTransition(string(shipment.Status), string(requested))
	}

	patch, err := s.buildPatch(shipment, requested, evidence)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatusIf(ctx, shipmentID, expected, &courierID, patch)
	if err != nil {
		if apperrors.Is(err, repository.ErrNoRowsAffected) {
			s.metrics.TransitionConflicts.Inc()
			return nil, apperrors.PreconditionFailed(
				fmt.Sprintf("shipment %s changed concurrently, re-read and retry", shipmentID))
		}
		return nil, fmt.Errorf("failed to apply status update: %w", err)
	}

	if requested == model.ShipmentStatusDelivered && updated.CODAmount > 0 && updated.CODCollected {
		if err := s.codLedger.Add(ctx, courierID, time.Now(), updated.CODAmount); err != nil {
			// The delivery already committed; the ledger is reconciled from
			// shipment rows, so log and move on.
			s.logger.Error(err, "failed to add to cod ledger",
				"shipment_id", shipmentID.String(), "courier_id", courierID.String())
		}
	}

	s.appendHistory(ctx, updated, "status_update", shipment.Status, requested, &courierID, historyNote(evidence))
	s.emitStatusEvent(ctx, updated, shipment.Status, courierID)
	s.metrics.TransitionsTotal.WithLabelValues(string(shipment.Status), string(requested)).Inc()

	return updated, nil
}

func (s *Service) buildPatch(shipment *model.Shipment, requested model.ShipmentStatus, evidence model.StatusEvidence) (*model.ShipmentPatch, error) {
	now := time.Now()
	patch := &model.ShipmentPatch{Status: requested}

	switch requested {
	case model.ShipmentStatusPickedUp:
		patch.PickedUpAt = &now

	case model.ShipmentStatusDelivering:
		// No additional evidence required.

	case model.ShipmentStatusDelivered:
		if evidence.PhotoURL == "" {
			return nil, apperrors.MissingEvidence("delivery photo is required to complete delivery")
		}
		if shipment.CODAmount > 0 && !evidence.CODCollected {
			return nil, apperrors.CodConfirmationRequired()
		}
		patch.DeliveredAt = &now
		patch.DeliveryPhotoURL = &evidence.PhotoURL
		if evidence.SignatureURL != "" {
			patch.SignatureURL = &evidence.SignatureURL
		}
		if shipment.CODAmount > 0 {
			collected := true
			patch.CODCollected = &collected
		}

	case model.ShipmentStatusFailed:
		if !model.ValidFailureReasons[evidence.Reason] {
			return nil, apperrors.InvalidFailureReason(string(evidence.Reason))
		}
		reason := evidence.Reason
		patch.FailureReason = &reason
		patch.IncrementAttempts = true
		if evidence.Note != "" {
			patch.FailureNote = &evidence.Note
		}
	}

	return patch, nil
}

// Reject removes the courier from a not-yet-picked-up shipment and hands it
// back to the matching queue. A stale client whose assignment was already
// reassigned gets Forbidden, never a silent no-op.
func (s *Service) Reject(ctx context.Context, shipmentID, courierID uuid.UUID, reason string) error {
	shipment, err := s.Get(ctx, shipmentID)
	if err != nil {
		return err
	}

	if shipment.AssignedCourierID == nil || *shipment.AssignedCourierID != courierID {
		return apperrors.Forbidden("courier is no longer assigned to this shipment")
	}
	if shipment.Status != model.ShipmentStatusAssigned {
		return apperrors.CannotReject(string(shipment.Status))
	}

	patch := &model.ShipmentPatch{
		Status:       model.ShipmentStatusAssigned,
		ClearCourier: true,
	}
	if _, err := s.repo.UpdateStatusIf(ctx, shipmentID, model.ShipmentStatusAssigned, &courierID, patch); err != nil {
		if apperrors.Is(err, repository.ErrNoRowsAffected) {
			// Lost the race: either another writer moved the status or the
			// shipment was reassigned under us.
			fresh, readErr := s.repo.Get(ctx, shipmentID)
			if readErr == nil && (fresh.AssignedCourierID == nil || *fresh.AssignedCourierID != courierID) {
				return apperrors.Forbidden("courier is no longer assigned to this shipment")
			}
			return apperrors.PreconditionFailed(
				fmt.Sprintf("shipment %s changed concurrently, re-read and retry", shipmentID))
		}
		return fmt.Errorf("failed to reject shipment: %w", err)
	}

	if err := s.queue.Enqueue(ctx, shipmentID); err != nil {
		// The assignment is already cleared; a missed enqueue is repaired by
		// the matcher's sweep of unassigned shipments.
		s.logger.Error(err, "failed to enqueue shipment for re-matching",
			"shipment_id", shipmentID.String())
	}

	note := reason
	s.appendHistory(ctx, shipment, "rejected", model.ShipmentStatusAssigned, model.ShipmentStatusAssigned, &courierID, &note)

	if err := s.emitter.Emit(ctx, model.EventTypeShipmentRejected, &model.ShipmentRejectedEvent{
		ShipmentID:     shipmentID,
		TrackingNumber: shipment.TrackingNumber,
		ShopID:         shipment.ShopID,
		CourierID:      courierID,
		Reason:         reason,
		Timestamp:      time.Now(),
	}); err != nil {
		s.logger.Error(err, "failed to emit rejection event", "shipment_id", shipmentID.String())
	}

	s.metrics.RejectionsTotal.Inc()
	return nil
}

func (s *Service) appendHistory(ctx context.Context, shipment *model.Shipment, action string, from, to model.ShipmentStatus, actorID *uuid.UUID, note *string) {
	event := &model.ShipmentHistoryEvent{
		ShipmentID: shipment.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Note:       note,
	}
	if err := s.repo.AppendHistory(ctx, event); err != nil {
		s.logger.Error(err, "failed to append shipment history",
			"shipment_id", shipment.ID.String(), "action", action)
	}
}

func (s *Service) emitStatusEvent(ctx context.Context, shipment *model.Shipment, from model.ShipmentStatus, courierID uuid.UUID) {
	event := &model.ShipmentStatusEvent{
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		OrderID:        shipment.OrderID,
		ShopID:         shipment.ShopID,
		CustomerID:     shipment.CustomerID,
		FromStatus:     from,
		ToStatus:       shipment.Status,
		CourierID:      courierID,
		FailureReason:  shipment.FailureReason,
		Timestamp:      time.Now(),
	}
	if err := s.emitter.Emit(ctx, model.EventTypeShipmentStatusChanged, event); err != nil {
		s.logger.Error(err, "failed to emit status event", "shipment_id", shipment.ID.String())
	}
}

func historyNote(evidence model.StatusEvidence) *string {
	if evidence.Lat != nil && evidence.Lng != nil {
		note := fmt.Sprintf("at %.6f,%.6f", *evidence.Lat, *evidence.Lng)
		if evidence.Note != "" {
			note = evidence.Note + " " + note
		}
		return &note
	}
	if evidence.Note != "" {
		return &evidence.Note
	}
	return nil
}

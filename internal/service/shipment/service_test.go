package shipment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
	apperrors "github.com/courierhq/dispatch-api/pkg/errors"
	"github.com/courierhq/dispatch-api/pkg/logger"
	"github.com/courierhq/dispatch-api/pkg/metrics"
)

type fakeShipmentRepo struct {
	mu       sync.Mutex
	shipment *model.Shipment
	history  []*model.ShipmentHistoryEvent
}

func (f *fakeShipmentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shipment == nil || f.shipment.ID != id {
		return nil, repository.ErrNotFound
	}
	copy := *f.shipment
	return &copy, nil
}

func (f *fakeShipmentRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, expectedStatus model.ShipmentStatus, expectedCourier *uuid.UUID, patch *model.ShipmentPatch) (*model.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shipment == nil || f.shipment.ID != id {
		return nil, repository.ErrNotFound
	}
	if f.shipment.Status != expectedStatus {
		return nil, repository.ErrNoRowsAffected
	}
	if expectedCourier != nil {
		if f.shipment.AssignedCourierID == nil || *f.shipment.AssignedCourierID != *expectedCourier {
			return nil, repository.ErrNoRowsAffected
		}
	}

	f.shipment.Status = patch.Status
	if patch.ClearCourier {
		f.shipment.AssignedCourierID = nil
	}
	if patch.CODCollected != nil {
		f.shipment.CODCollected = *patch.CODCollected
	}
	if patch.DeliveryPhotoURL != nil {
		f.shipment.DeliveryPhotoURL = patch.DeliveryPhotoURL
	}
	if patch.SignatureURL != nil {
		f.shipment.SignatureURL = patch.SignatureURL
	}
	if patch.FailureReason != nil {
		f.shipment.FailureReason = patch.FailureReason
	}
	if patch.FailureNote != nil {
		f.shipment.FailureNote = patch.FailureNote
	}
	if patch.IncrementAttempts {
		f.shipment.DeliveryAttempts++
	}
	if patch.PickedUpAt != nil {
		f.shipment.PickedUpAt = patch.PickedUpAt
	}
	if patch.DeliveredAt != nil {
		f.shipment.DeliveredAt = patch.DeliveredAt
	}
	copy := *f.shipment
	return &copy, nil
}

func (f *fakeShipmentRepo) AppendHistory(ctx context.Context, event *model.ShipmentHistoryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, event)
	return nil
}

func (f *fakeShipmentRepo) ListByCourier(ctx context.Context, courierID uuid.UUID, statuses []model.ShipmentStatus) ([]*model.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shipment != nil && f.shipment.AssignedCourierID != nil && *f.shipment.AssignedCourierID == courierID {
		copy := *f.shipment
		return []*model.Shipment{&copy}, nil
	}
	return nil, nil
}

type fakeCODLedger struct {
	mu     sync.Mutex
	totals map[uuid.UUID]int64
}

func (f *fakeCODLedger) Add(ctx context.Context, courierID uuid.UUID, day time.Time, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.totals == nil {
		f.totals = make(map[uuid.UUID]int64)
	}
	f.totals[courierID] += amount
	return nil
}

func (f *fakeCODLedger) Total(ctx context.Context, courierID uuid.UUID, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totals[courierID], nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
}

func (f *fakeQueue) Enqueue(ctx context.Context, shipmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, shipmentID)
	return nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Emit(ctx context.Context, eventType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

type fixture struct {
	svc     *Service
	repo    *fakeShipmentRepo
	ledger  *fakeCODLedger
	queue   *fakeQueue
	emitter *fakeEmitter
}

func newFixture(t *testing.T, shipment *model.Shipment) *fixture {
	t.Helper()
	repo := &fakeShipmentRepo{shipment: shipment}
	ledger := &fakeCODLedger{}
	queue := &fakeQueue{}
	emitter := &fakeEmitter{}
	m := metrics.NewMetricsWithRegistry("test", "shipment", prometheus.NewRegistry())
	svc := NewService(repo, ledger, queue, emitter, m, logger.NewLogger(nil))
	return &fixture{svc: svc, repo: repo, ledger: ledger, queue: queue, emitter: emitter}
}

func assignedShipment(courierID uuid.UUID, status model.ShipmentStatus) *model.Shipment {
	return &model.Shipment{
		ID:                uuid.New(),
		TrackingNumber:    "TRK-1001",
		OrderID:           uuid.New(),
		ShopID:            uuid.New(),
		CustomerID:        uuid.New(),
		Status:            status,
		AssignedCourierID: &courierID,
	}
}

func TestApplyStatusUpdatePickup(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusAssigned))

	updated, err := f.svc.ApplyStatusUpdate(context.Background(), f.repo.shipment.ID, model.ShipmentStatusPickedUp, courierID, model.StatusEvidence{})
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusPickedUp, updated.Status)
	assert.NotNil(t, updated.PickedUpAt)
	assert.Equal(t, []string{model.EventTypeShipmentStatusChanged}, f.emitter.events)
	require.Len(t, f.repo.history, 1)
	assert.Equal(t, "status_update", f.repo.history[0].Action)
}

func TestApplyStatusUpdateRejectsSkippedSteps(t *testing.T) {
	courierID := uuid.New()

	cases := []struct {
		name    string
		current model.ShipmentStatus
		request model.ShipmentStatus
	}{
		{"assigned to delivering", model.ShipmentStatusAssigned, model.ShipmentStatusDelivering},
		{"assigned to delivered", model.ShipmentStatusAssigned, model.ShipmentStatusDelivered},
		{"picked up to delivered", model.ShipmentStatusPickedUp, model.ShipmentStatusDelivered},
		{"picked up to failed", model.ShipmentStatusPickedUp, model.ShipmentStatusFailed},
		{"delivered is terminal", model.ShipmentStatusDelivered, model.ShipmentStatusDelivering},
		{"backwards", model.ShipmentStatusDelivering, model.ShipmentStatusPickedUp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, assignedShipment(courierID, tc.current))
			_, err := f.svc.ApplyStatusUpdate(context.Background(), f.repo.shipment.ID, tc.request, courierID, model.StatusEvidence{PhotoURL: "https://cdn/x.jpg", Reason: model.FailureReasonOther})
			assert.Equal(t, apperrors.ErrInvalidTransition, apperrors.CodeOf(err))
		})
	}
}

func TestApplyStatusUpdateForbiddenForOtherCourier(t *testing.T) {
	f := newFixture(t, assignedShipment(uuid.New(), model.ShipmentStatusAssigned))

	_, err := f.svc.ApplyStatusUpdate(context.Background(), f.repo.shipment.ID, model.ShipmentStatusPickedUp, uuid.New(), model.StatusEvidence{})
	assert.Equal(t, apperrors.ErrForbidden, apperrors.CodeOf(err))
}

func TestApplyStatusUpdateNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.ApplyStatusUpdate(context.Background(), uuid.New(), model.ShipmentStatusPickedUp, uuid.New(), model.StatusEvidence{})
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestDeliveredRequiresPhoto(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusDelivering))

	_, err := f.svc.ApplyStatusUpdate(context.Background(), f.repo.shipment.ID, model.ShipmentStatusDelivered, courierID, model.StatusEvidence{})
	assert.Equal(t, apperrors.ErrMissingEvidence, apperrors.CodeOf(err))
	assert.Equal(t, model.ShipmentStatusDelivering, f.repo.shipment.Status)
}

func TestDeliveredRequiresCODConfirmation(t *testing.T) {
	courierID := uuid.New()
	shipment := assignedShipment(courierID, model.ShipmentStatusDelivering)
	shipment.CODAmount = 25000
	f := newFixture(t, shipment)

	_, err := f.svc.ApplyStatusUpdate(context.Background(), shipment.ID, model.ShipmentStatusDelivered, courierID, model.StatusEvidence{PhotoURL: "https://cdn/proof.jpg"})
	assert.Equal(t, apperrors.ErrCodConfirmationRequired, apperrors.CodeOf(err))

	updated, err := f.svc.ApplyStatusUpdate(context.Background(), shipment.ID, model.ShipmentStatusDelivered, courierID, model.StatusEvidence{
		PhotoURL:     "https://cdn/proof.jpg",
		CODCollected: true,
	})
	require.NoError(t, err)
	assert.True(t, updated.CODCollected)
	assert.NotNil(t, updated.DeliveredAt)

	total, err := f.ledger.Total(context.Background(), courierID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(25000), total)
}

func TestDeliveredWithoutCODSkipsLedger(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusDelivering))

	_, err := f.svc.ApplyStatusUpdate(context.Background(), f.repo.shipment.ID, model.ShipmentStatusDelivered, courierID, model.StatusEvidence{PhotoURL: "https://cdn/proof.jpg"})
	require.NoError(t, err)

	total, err := f.ledger.Total(context.Background(), courierID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestFailedRequiresKnownReason(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusDelivering))

	_, err := f.svc.ApplyStatusUpdate(context.Background(), f.repo.shipment.ID, model.ShipmentStatusFailed, courierID, model.StatusEvidence{Reason: "dog_ate_it"})
	assert.Equal(t, apperrors.ErrInvalidFailureReason, apperrors.CodeOf(err))

	_, err = f.svc.ApplyStatusUpdate(context.Background(), f.repo.shipment.ID, model.ShipmentStatusFailed, courierID, model.StatusEvidence{})
	assert.Equal(t, apperrors.ErrInvalidFailureReason, apperrors.CodeOf(err))
}

func TestFailedIncrementsAttempts(t *testing.T) {
	courierID := uuid.New()
	shipment := assignedShipment(courierID, model.ShipmentStatusDelivering)
	shipment.DeliveryAttempts = 1
	f := newFixture(t, shipment)

	updated, err := f.svc.ApplyStatusUpdate(context.Background(), shipment.ID, model.ShipmentStatusFailed, courierID, model.StatusEvidence{
		Reason: model.FailureReasonCustomerNotAvailable,
		Note:   "no answer at the door",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.DeliveryAttempts)
	require.NotNil(t, updated.FailureReason)
	assert.Equal(t, model.FailureReasonCustomerNotAvailable, *updated.FailureReason)
	require.NotNil(t, updated.FailureNote)
	assert.Equal(t, "no answer at the door", *updated.FailureNote)
}

func TestConcurrentUpdatesOneWinner(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusAssigned))
	shipmentID := f.repo.shipment.ID

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ApplyStatusUpdate(context.Background(), shipmentID, model.ShipmentStatusPickedUp, courierID, model.StatusEvidence{})
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case apperrors.CodeOf(err) == apperrors.ErrPreconditionFailed,
			apperrors.CodeOf(err) == apperrors.ErrInvalidTransition:
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, model.ShipmentStatusPickedUp, f.repo.shipment.Status)
}

func TestRejectReleasesAssignment(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusAssigned))
	shipmentID := f.repo.shipment.ID

	err := f.svc.Reject(context.Background(), shipmentID, courierID, "vehicle broke down")
	require.NoError(t, err)

	assert.Nil(t, f.repo.shipment.AssignedCourierID)
	assert.Equal(t, model.ShipmentStatusAssigned, f.repo.shipment.Status)
	assert.Equal(t, []uuid.UUID{shipmentID}, f.queue.enqueued)
	assert.Contains(t, f.emitter.events, model.EventTypeShipmentRejected)
	require.Len(t, f.repo.history, 1)
	assert.Equal(t, "rejected", f.repo.history[0].Action)
}

func TestRejectAfterPickupFails(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusPickedUp))

	err := f.svc.Reject(context.Background(), f.repo.shipment.ID, courierID, "changed my mind")
	assert.Equal(t, apperrors.ErrCannotReject, apperrors.CodeOf(err))
	assert.Empty(t, f.queue.enqueued)
}

func TestRejectByUnassignedCourier(t *testing.T) {
	f := newFixture(t, assignedShipment(uuid.New(), model.ShipmentStatusAssigned))

	err := f.svc.Reject(context.Background(), f.repo.shipment.ID, uuid.New(), "not mine")
	assert.Equal(t, apperrors.ErrForbidden, apperrors.CodeOf(err))
}

func TestRejectTwiceSecondGetsForbidden(t *testing.T) {
	courierID := uuid.New()
	f := newFixture(t, assignedShipment(courierID, model.ShipmentStatusAssigned))
	shipmentID := f.repo.shipment.ID

	require.NoError(t, f.svc.Reject(context.Background(), shipmentID, courierID, "first"))

	err := f.svc.Reject(context.Background(), shipmentID, courierID, "second")
	assert.Equal(t, apperrors.ErrForbidden, apperrors.CodeOf(err))
	assert.Len(t, f.queue.enqueued, 1)
}

package tracking

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

type fakeLocationCache struct {
	mu                sync.Mutex
	courierPositions  map[uuid.UUID]*model.PositionSample
	shipmentPositions map[uuid.UUID]*model.PositionSample
	sessions          map[uuid.UUID]*model.CourierSession
}

func newFakeLocationCache() *fakeLocationCache {
	return &fakeLocationCache{
		courierPositions:  make(map[uuid.UUID]*model.PositionSample),
		shipmentPositions: make(map[uuid.UUID]*model.PositionSample),
		sessions:          make(map[uuid.UUID]*model.CourierSession),
	}
}

func (f *fakeLocationCache) SetPosition(ctx context.Context, sample *model.PositionSample, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.courierPositions[sample.CourierID] = sample
	if sample.ShipmentID != nil {
		f.shipmentPositions[*sample.ShipmentID] = sample
	}
	return nil
}

func (f *fakeLocationCache) GetCourierPosition(ctx context.Context, courierID uuid.UUID) (*model.PositionSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sample, ok := f.courierPositions[courierID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sample, nil
}

func (f *fakeLocationCache) GetShipmentPosition(ctx context.Context, shipmentID uuid.UUID) (*model.PositionSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sample, ok := f.shipmentPositions[shipmentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sample, nil
}

func (f *fakeLocationCache) SetSession(ctx context.Context, session *model.CourierSession, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.CourierID] = session
	return nil
}

func (f *fakeLocationCache) GetSession(ctx context.Context, courierID uuid.UUID) (*model.CourierSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[courierID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return session, nil
}

func (f *fakeLocationCache) DeleteSession(ctx context.Context, courierID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, courierID)
	return nil
}

type stubShipmentRepo struct {
	shipment *model.Shipment
}

func (s *stubShipmentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	if s.shipment == nil || s.shipment.ID != id {
		return nil, repository.ErrNotFound
	}
	return s.shipment, nil
}

func (s *stubShipmentRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, expectedStatus model.ShipmentStatus, expectedCourier *uuid.UUID, patch *model.ShipmentPatch) (*model.Shipment, error) {
	return nil, repository.ErrNoRowsAffected
}

func (s *stubShipmentRepo) AppendHistory(ctx context.Context, event *model.ShipmentHistoryEvent) error {
	return nil
}

func (s *stubShipmentRepo) ListByCourier(ctx context.Context, courierID uuid.UUID, statuses []model.ShipmentStatus) ([]*model.Shipment, error) {
	return nil, nil
}

func newTestService(t *testing.T, shipment *model.Shipment) (*Service, *fakeLocationCache, *Hub) {
	t.Helper()
	cache := newFakeLocationCache()
	hub := NewHub(metrics.NewMetricsWithRegistry("test", "tracking_svc", prometheus.NewRegistry()))
	svc := NewService(
		cache,
		&stubShipmentRepo{shipment: shipment},
		hub,
		Config{},
		metrics.NewMetricsWithRegistry("test", "tracking_svc2", prometheus.NewRegistry()),
		logger.NewLogger(nil),
	)
	return svc, cache, hub
}

func activeShipment(status model.ShipmentStatus) *model.Shipment {
	return &model.Shipment{ID: uuid.New(), Status: status}
}

func TestPingStoresPositionAndSession(t *testing.T) {
	svc, cache, _ := newTestService(t, nil)
	courierID := uuid.New()

	err := svc.Ping(context.Background(), PingInput{CourierID: courierID, Lat: -6.2, Lng: 106.8})
	require.NoError(t, err)

	sample, err := cache.GetCourierPosition(context.Background(), courierID)
	require.NoError(t, err)
	assert.Equal(t, -6.2, sample.Lat)

	session, err := cache.GetSession(context.Background(), courierID)
	require.NoError(t, err)
	assert.Equal(t, courierID, session.CourierID)
	assert.False(t, session.LastSeen.IsZero())
}

func TestPingBroadcastsForActiveDelivery(t *testing.T) {
	shipment := activeShipment(model.ShipmentStatusDelivering)
	svc, _, hub := newTestService(t, shipment)

	sub := hub.Subscribe(shipment.ID)
	defer sub.Close()

	err := svc.Ping(context.Background(), PingInput{
		CourierID:  uuid.New(),
		ShipmentID: &shipment.ID,
		Lat:        -6.2,
		Lng:        106.8,
	})
	require.NoError(t, err)

	select {
	case sample := <-sub.C():
		require.NotNil(t, sample.ShipmentID)
		assert.Equal(t, shipment.ID, *sample.ShipmentID)
	default:
		t.Fatal("expected a broadcast sample")
	}
}

func TestPingSkipsBroadcastForTerminalShipment(t *testing.T) {
	shipment := activeShipment(model.ShipmentStatusDelivered)
	svc, _, hub := newTestService(t, shipment)

	sub := hub.Subscribe(shipment.ID)
	defer sub.Close()

	err := svc.Ping(context.Background(), PingInput{
		CourierID:  uuid.New(),
		ShipmentID: &shipment.ID,
		Lat:        -6.2,
		Lng:        106.8,
	})
	require.NoError(t, err)
	assert.Empty(t, sub.C())
}

func TestPingUnknownShipment(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	missing := uuid.New()

	err := svc.Ping(context.Background(), PingInput{
		CourierID:  uuid.New(),
		ShipmentID: &missing,
		Lat:        -6.2,
		Lng:        106.8,
	})
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestGoOnlineThenOffline(t *testing.T) {
	svc, cache, _ := newTestService(t, nil)
	courierID := uuid.New()

	require.NoError(t, svc.GoOnline(context.Background(), courierID, -6.2, 106.8))

	session, position, err := svc.CourierPresence(context.Background(), courierID)
	require.NoError(t, err)
	assert.Equal(t, courierID, session.CourierID)
	require.NotNil(t, position)
	assert.Equal(t, -6.2, position.Lat)

	require.NoError(t, svc.GoOffline(context.Background(), courierID))

	_, err = cache.GetSession(context.Background(), courierID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, _, err = svc.CourierPresence(context.Background(), courierID)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestShipmentPositionMissing(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.ShipmentPosition(context.Background(), uuid.New())
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestShipmentPositionReturnsLatest(t *testing.T) {
	shipment := activeShipment(model.ShipmentStatusDelivering)
	svc, _, _ := newTestService(t, shipment)
	courierID := uuid.New()

	for _, lat := range []float64{-6.1, -6.2, -6.3} {
		require.NoError(t, svc.Ping(context.Background(), PingInput{
			CourierID:  courierID,
			ShipmentID: &shipment.ID,
			Lat:        lat,
			Lng:        106.8,
		}))
	}

	sample, err := svc.ShipmentPosition(context.Background(), shipment.ID)
	require.NoError(t, err)
	assert.Equal(t, -6.3, sample.Lat)
}

package tracking

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

// Statuses whose pings are republished to the shipment's tracking topic.
var activeDeliveryStatuses = map[model.ShipmentStatus]bool{
	model.ShipmentStatusAssigned:   true,
	model.ShipmentStatusPickedUp:   true,
	model.ShipmentStatusDelivering: true,
}

type Config struct {
	PositionTTL time.Duration
	SessionTTL  time.Duration
}

type Service struct {
	cache     repository.LocationCache
	shipments repository.ShipmentRepository
	hub       *Hub
	config    Config
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewService(
	cache repository.LocationCache,
	shipments repository.ShipmentRepository,
	hub *Hub,
	config Config,
	m *metrics.Metrics,
	l *logger.Logger,
) *Service {
	if config.PositionTTL <= 0 {
		config.PositionTTL = 2 * time.Minute
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 5 * time.Minute
	}
	return &Service{
		cache:     cache,
		shipments: shipments,
		hub:       hub,
		config:    config,
		metrics:   m,
		logger:    l,
	}
}

type PingInput struct {
	CourierID  uuid.UUID
	ShipmentID *uuid.UUID
	Lat        float64
	Lng        float64
	Heading    float64
	Speed      float64
}

// Ping records the courier's latest position and refreshes their session
// TTL. When the ping names a shipment in an active delivery status, the
// sample is also republished to that shipment's tracking topic. Republishing
// is at-most-once: a slow subscriber never stalls the courier's request.
func (s *Service) Ping(ctx context.Context, input PingInput) error {
	sample := &model.PositionSample{
		CourierID:  input.CourierID,
		ShipmentID: input.ShipmentID,
		Lat:        input.Lat,
		Lng:        input.Lng,
		Heading:    input.Heading,
		Speed:      input.Speed,
		Timestamp:  time.Now(),
	}

	if err := s.cache.SetPosition(ctx, sample, s.config.PositionTTL); err != nil {
		return fmt.Errorf("failed to store position: %w", err)
	}
	s.refreshSession(ctx, input.CourierID)
	s.metrics.PingsTotal.Inc()

	if input.ShipmentID == nil {
		return nil
	}

	shipment, err := s.shipments.Get(ctx, *input.ShipmentID)
	if err != nil {
		if apperrors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("shipment", err)
		}
		return fmt.Errorf("failed to get shipment: %w", err)
	}
	if !activeDeliveryStatuses[shipment.Status] {
		return nil
	}

	s.hub.Publish(*input.ShipmentID, sample)
	return nil
}

// Subscribe joins the tracking topic for one shipment.
func (s *Service) Subscribe(shipmentID uuid.UUID) *Subscription {
	return s.hub.Subscribe(shipmentID)
}

// GoOnline opens a courier session with an initial position.
func (s *Service) GoOnline(ctx context.Context, courierID uuid.UUID, lat, lng float64) error {
	now := time.Now()
	session := &model.CourierSession{
		CourierID: courierID,
		OnlineAt:  now,
		LastSeen:  now,
	}
	if err := s.cache.SetSession(ctx, session, s.config.SessionTTL); err != nil {
		return fmt.Errorf("failed to open courier session: %w", err)
	}

	sample := &model.PositionSample{
		CourierID: courierID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: now,
	}
	if err := s.cache.SetPosition(ctx, sample, s.config.PositionTTL); err != nil {
		return fmt.Errorf("failed to store position: %w", err)
	}
	return nil
}

// GoOffline drops the courier session. No offline event is broadcast;
// subscribers detect staleness client-side.
func (s *Service) GoOffline(ctx context.Context, courierID uuid.UUID) error {
	if err := s.cache.DeleteSession(ctx, courierID); err != nil {
		return fmt.Errorf("failed to close courier session: %w", err)
	}
	return nil
}

// ShipmentPosition returns the last known sample for a shipment, or NotFound
// when nothing fresh is cached.
func (s *Service) ShipmentPosition(ctx context.Context, shipmentID uuid.UUID) (*model.PositionSample, error) {
	sample, err := s.cache.GetShipmentPosition(ctx, shipmentID)
	if err != nil {
		if apperrors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("position", err)
		}
		return nil, fmt.Errorf("failed to read shipment position: %w", err)
	}
	return sample, nil
}

// CourierPresence reports whether a courier is online and where they were
// last seen.
func (s *Service) CourierPresence(ctx context.Context, courierID uuid.UUID) (*model.CourierSession, *model.PositionSample, error) {
	session, err := s.cache.GetSession(ctx, courierID)
	if err != nil {
		if apperrors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperrors.NotFound("courier session", err)
		}
		return nil, nil, fmt.Errorf("failed to read courier session: %w", err)
	}

	sample, err := s.cache.GetCourierPosition(ctx, courierID)
	if err != nil && !apperrors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to read courier position: %w", err)
	}
	return session, sample, nil
}

func (s *Service) refreshSession(ctx context.Context, courierID uuid.UUID) {
	session, err := s.cache.GetSession(ctx, courierID)
	if err != nil {
		if !apperrors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("failed to read courier session", "courier_id", courierID.String())
		}
		session = &model.CourierSession{CourierID: courierID, OnlineAt: time.Now()}
	}
	session.LastSeen = time.Now()

	if err := s.cache.SetSession(ctx, session, s.config.SessionTTL); err != nil {
		s.logger.Warn("failed to refresh courier session", "courier_id", courierID.String())
	}
}

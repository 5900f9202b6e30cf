package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
)

const (
	courierPositionKey  = "position:courier:%s"
	shipmentPositionKey = "position:shipment:%s"
	courierSessionKey   = "session:courier:%s"
)

type locationCache struct {
	client *redis.Client
}

func NewLocationCache(client *redis.Client) repository.LocationCache {
	return &locationCache{client: client}
}

// SetPosition writes the sample under the courier key and, when bound to a
// shipment, under the shipment key too. Last value wins; both entries expire
// on TTL so stale couriers fall out of the map on their own.
func (c *locationCache) SetPosition(ctx context.Context, sample *model.PositionSample, ttl time.Duration) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal position sample: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(courierPositionKey, sample.CourierID), payload, ttl)
	if sample.ShipmentID != nil {
		pipe.Set(ctx, fmt.Sprintf(shipmentPositionKey, *sample.ShipmentID), payload, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store position sample: %w", err)
	}
	return nil
}

func (c *locationCache) GetCourierPosition(ctx context.Context, courierID uuid.UUID) (*model.PositionSample, error) {
	return c.getPosition(ctx, fmt.Sprintf(courierPositionKey, courierID))
}

func (c *locationCache) GetShipmentPosition(ctx context.Context, shipmentID uuid.UUID) (*model.PositionSample, error) {
	return c.getPosition(ctx, fmt.Sprintf(shipmentPositionKey, shipmentID))
}

func (c *locationCache) getPosition(ctx context.Context, key string) (*model.PositionSample, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position: %w", err)
	}

	var sample model.PositionSample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position sample: %w", err)
	}
	return &sample, nil
}

func (c *locationCache) SetSession(ctx context.Context, session *model.CourierSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal courier session: %w", err)
	}
	key := fmt.Sprintf(courierSessionKey, session.CourierID)
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store courier session: %w", err)
	}
	return nil
}

func (c *locationCache) GetSession(ctx context.Context, courierID uuid.UUID) (*model.CourierSession, error) {
	payload, err := c.client.Get(ctx, fmt.Sprintf(courierSessionKey, courierID)).Bytes()
	if err == redis.Nil {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read courier session: %w", err)
	}

	var session model.CourierSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal courier session: %w", err)
	}
	return &session, nil
}

func (c *locationCache) DeleteSession(ctx context.Context, courierID uuid.UUID) error {
	if err := c.client.Del(ctx, fmt.Sprintf(courierSessionKey, courierID)).Err(); err != nil {
		return fmt.Errorf("failed to delete courier session: %w", err)
	}
	return nil
}

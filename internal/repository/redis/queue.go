package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/courierhq/dispatch-api/internal/repository"
)

const matchingQueueKey = "queue:matching:pending"

type matchingQueue struct {
	client *redis.Client
}

func NewMatchingQueue(client *redis.Client) repository.MatchingQueue {
	return &matchingQueue{client: client}
}

// Enqueue hands the shipment back to the dispatch matcher. The matcher pops
// from the other end, so rejected shipments are re-dispatched in order.
func (q *matchingQueue) Enqueue(ctx context.Context, shipmentID uuid.UUID) error {
	if err := q.client.LPush(ctx, matchingQueueKey, shipmentID.String()).Err(); err != nil {
		return fmt.Errorf("failed to enqueue shipment for matching: %w", err)
	}
	return nil
}

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
	"github.com/courierhq/dispatch-api/pkg/logger"
	"github.com/courierhq/dispatch-api/pkg/messaging"
)

const publishTimeout = 5 * time.Second

// Service stages domain events in the outbox and attempts an immediate
// best-effort publish. Events the fast path misses are relayed by the
// outbox worker, so emitting never depends on the broker being up.
type Service struct {
	outboxRepo repository.OutboxRepository
	broker     messaging.Broker
	logger     *logger.Logger
}

func NewService(outboxRepo repository.OutboxRepository, broker messaging.Broker, l *logger.Logger) *Service {
	return &Service{
		outboxRepo: outboxRepo,
		broker:     broker,
		logger:     l,
	}
}

func (s *Service) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payloadJSON,
	}
	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	// Fast path: try to publish right away so consumers usually see events
	// within milliseconds. Failures are left pending for the worker.
	go s.tryPublish(event)

	return nil
}

func (s *Service) tryPublish(event *model.OutboxEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.broker.Publish(ctx, event.EventType, event.Payload); err != nil {
		s.logger.Warn("immediate publish failed, leaving event for outbox worker",
			"event_id", event.ID.String(), "event_type", event.EventType)
		return
	}

	if err := s.outboxRepo.UpdateStatusTx(ctx, nil, event.ID, string(model.OutboxStatusProcessed), nil, nil); err != nil {
		s.logger.Error(err, "failed to mark event processed", "event_id", event.ID.String())
	}
}

package tracking

import (
	"sync"

	"github.com/google/uuid"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/pkg/metrics"
)

const defaultSubscriberBuffer = 16

// Hub is a topic-keyed broadcast registry: one topic per shipment id,
// any number of subscribers per topic. Publishing never blocks; a
// subscriber whose buffer is full misses that sample. Consumers render
// only the freshest sample, so dropped pings are acceptable by design
// of the tracking contract.
type Hub struct {
	mu      sync.RWMutex
	topics  map[uuid.UUID]map[*Subscription]struct{}
	buffer  int
	metrics *metrics.Metrics
}

// Subscription is one subscriber's handle on a shipment topic. Receive from
// C until it is closed; call Close to leave the topic.
type Subscription struct {
	shipmentID uuid.UUID
	ch         chan *model.PositionSample
	hub        *Hub
	closeOnce  sync.Once
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		topics:  make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer:  defaultSubscriberBuffer,
		metrics: m,
	}
}

func (h *Hub) Subscribe(shipmentID uuid.UUID) *Subscription {
	sub := &Subscription{
		shipmentID: shipmentID,
		ch:         make(chan *model.PositionSample, h.buffer),
		hub:        h,
	}

	h.mu.Lock()
	subs, ok := h.topics[shipmentID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[shipmentID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.ActiveSubscribers.Inc()
	return sub
}

func (s *Subscription) C() <-chan *model.PositionSample {
	return s.ch
}

// Close leaves the topic. In-flight samples already buffered are still
// readable until the channel drains and closes.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
		close(s.ch)
	})
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.topics[sub.shipmentID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.shipmentID)
		}
	}
	h.mu.Unlock()

	h.metrics.ActiveSubscribers.Dec()
}

// Publish delivers the sample to every current subscriber of the shipment's
// topic without blocking the publisher. Full subscriber buffers drop the
// sample for that subscriber only.
func (h *Hub) Publish(shipmentID uuid.UUID, sample *model.PositionSample) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[shipmentID] {
		select {
		case sub.ch <- sample:
		default:
			h.metrics.PingsDropped.Inc()
		}
	}
}

// CloseAll terminates every subscription. Used on shutdown so streaming
// handlers unblock and return.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var subs []*Subscription
	for _, topic := range h.topics {
		for sub := range topic {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// SubscriberCount reports the current number of subscribers for a shipment.
func (h *Hub) SubscriberCount(shipmentID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[shipmentID])
}

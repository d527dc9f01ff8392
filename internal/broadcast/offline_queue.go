package broadcast

import (
	"sync"

	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/protocol"

	lru "github.com/hashicorp/golang-lru/v2"
)

type userQueue struct {
	mutex   sync.Mutex
	entries []protocol.Envelope
}

// OfflineQueue buffers messages for users with no registered connection.
// Queues are bounded to the most recent perUserLimit entries; the user map
// itself is an LRU so the queues of long idle users get evicted under
// memory pressure.  Delivery is best effort, not guaranteed.
type OfflineQueue struct {
	mutex        sync.Mutex
	queues       *lru.Cache[domain.UserID, *userQueue]
	perUserLimit int
}

func NewOfflineQueue(userLimit int, perUserLimit int) (*OfflineQueue, error) {
	queues, err := lru.New[domain.UserID, *userQueue](userLimit)
	if err != nil {
		return nil, err
	}

	return &OfflineQueue{
		queues:       queues,
		perUserLimit: perUserLimit,
	}, nil
}

func (oq *OfflineQueue) Enqueue(userID domain.UserID, envelope protocol.Envelope) {
	oq.mutex.Lock()
	queue, exists := oq.queues.Get(userID)
	if !exists {
		queue = &userQueue{}
		oq.queues.Add(userID, queue)
	}
	oq.mutex.Unlock()

	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	queue.entries = append(queue.entries, envelope)
	if len(queue.entries) > oq.perUserLimit {
		dropped := len(queue.entries) - oq.perUserLimit
		queue.entries = queue.entries[dropped:]
		metrics.offlineMessagesDroppedCounter.Add(float64(dropped))
	}

	metrics.offlineMessagesQueuedCounter.Inc()
}

// Drain removes and returns the queued messages scoped to one tenant.
// Messages queued under other tenants stay queued for a connect to those
// tenants.
func (oq *OfflineQueue) Drain(userID domain.UserID, tenantID domain.TenantID) []protocol.Envelope {
	oq.mutex.Lock()
	queue, exists := oq.queues.Get(userID)
	oq.mutex.Unlock()

	if !exists {
		return nil
	}

	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	var drained []protocol.Envelope
	var remaining []protocol.Envelope

	for _, envelope := range queue.entries {
		if envelope.TenantID == tenantID.String() {
			drained = append(drained, envelope)
		} else {
			remaining = append(remaining, envelope)
		}
	}

	queue.entries = remaining

	return drained
}

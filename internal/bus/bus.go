// Package bus fans alerts out from a single producer to independent
// per-subscriber channels, and retains a ring buffer of recent alerts
// (spec.md §4.J). No subscriber can block the producer: a full
// subscriber channel drops its oldest pending alert before accepting
// the new one.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smc-engine/smcengine/internal/metrics"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/pkg/logger"
)

// RingCapacity is the number of recent alerts retained for Recent().
const RingCapacity = 100

// SubscriberBuffer is the default per-subscriber channel depth,
// mirroring wsgateway/connection.go's buffered Send channel.
const SubscriberBuffer = 64

// CloseGracePeriod bounds how long Close waits for a subscriber's
// buffered channel to drain before closing it out from under its reader.
const CloseGracePeriod = 2 * time.Second

// Filter narrows which alerts a subscriber receives. A zero Filter
// matches everything.
type Filter struct {
	Symbol string
	Types  []models.AlertType
}

func (f Filter) matches(alert models.Alert) bool {
	if f.Symbol != "" && f.Symbol != alert.Symbol {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == alert.Type {
			return true
		}
	}
	return false
}

type subscriber struct {
	id     string
	filter Filter
	ch     chan models.Alert
	mu     sync.Mutex
}

// Bus is the single in-process alert fan-out point. Construct with New
// and feed it alerts from exactly one producer via Publish.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	ringMu sync.Mutex
	ring   []models.Alert

	readMu sync.Mutex
	read   map[string]bool

	droppedMu    sync.Mutex
	droppedTotal int64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
		read:        make(map[string]bool),
	}
}

// Subscribe registers a new subscriber matching filter and returns a
// receive-only channel of alerts plus the subscription id needed to
// unsubscribe later. Once Close has been called, Subscribe returns a
// channel that is already closed.
func (b *Bus) Subscribe(filter Filter) (string, <-chan models.Alert) {
	sub := &subscriber{
		id:     uuid.NewString(),
		filter: filter,
		ch:     make(chan models.Alert, SubscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.id, sub.ch
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	metrics.ActiveSubscribers.Inc()

	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if ok {
		sub.mu.Lock()
		close(sub.ch)
		sub.mu.Unlock()
		metrics.ActiveSubscribers.Dec()
	}
}

// Close stops Subscribe from accepting new subscribers, gives every
// existing subscriber up to CloseGracePeriod to drain its buffered
// channel, then closes all of them. Safe to call once during shutdown;
// a second call is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[string]*subscriber)
	b.mu.Unlock()

	deadline := time.Now().Add(CloseGracePeriod)
	for _, sub := range subs {
		b.drainAndClose(sub, deadline)
	}
}

// drainAndClose waits for sub's channel to empty out, up to deadline,
// then closes it so any blocked reader (wsgateway's forwardAlerts loop)
// unblocks and exits cleanly instead of leaking.
func (b *Bus) drainAndClose(sub *subscriber, deadline time.Time) {
	for len(sub.ch) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	sub.mu.Lock()
	close(sub.ch)
	sub.mu.Unlock()
	metrics.ActiveSubscribers.Dec()
}

// Publish is the single producer's entry point: it appends alert to
// the ring buffer and fans it out to every matching subscriber without
// blocking, following internal/wsgateway/hub.go's broadcastAlert loop
// over the connection registry.
func (b *Bus) Publish(ctx context.Context, alert models.Alert) {
	b.appendRing(alert)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.filter.matches(alert) {
			continue
		}
		b.deliver(sub, alert)
	}
}

// deliver sends alert to sub, dropping the oldest queued alert first
// if the channel is already full (spec.md §4.J), rather than the
// teacher's drop-the-new-message-on-timeout behavior in
// connection.go's SendAlert.
func (b *Bus) deliver(sub *subscriber, alert models.Alert) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.ch <- alert:
		return
	default:
	}

	select {
	case dropped := <-sub.ch:
		b.droppedMu.Lock()
		b.droppedTotal++
		b.droppedMu.Unlock()
		metrics.AlertsDroppedTotal.Inc()
		logger.Debug("bus: dropping oldest queued alert for full subscriber",
			logger.String("subscription_id", sub.id),
			logger.String("dropped_alert_id", dropped.ID),
		)
	default:
	}

	select {
	case sub.ch <- alert:
	default:
	}
}

func (b *Bus) appendRing(alert models.Alert) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	b.ring = append(b.ring, alert)
	if len(b.ring) > RingCapacity {
		b.ring = b.ring[len(b.ring)-RingCapacity:]
	}
}

// Recent returns up to limit of the most recently published alerts,
// newest last, annotated with Read state.
func (b *Bus) Recent(limit int) []models.Alert {
	b.ringMu.Lock()
	ring := make([]models.Alert, len(b.ring))
	copy(ring, b.ring)
	b.ringMu.Unlock()

	if limit > 0 && limit < len(ring) {
		ring = ring[len(ring)-limit:]
	}

	b.readMu.Lock()
	defer b.readMu.Unlock()
	for i := range ring {
		ring[i].Read = b.read[ring[i].ID]
	}
	return ring
}

// MarkRead records id as read for subsequent Recent calls.
func (b *Bus) MarkRead(id string) {
	b.readMu.Lock()
	defer b.readMu.Unlock()
	b.read[id] = true
}

// DroppedTotal returns the running count of alerts dropped for full
// subscriber channels, for metrics.
func (b *Bus) DroppedTotal() int64 {
	b.droppedMu.Lock()
	defer b.droppedMu.Unlock()
	return b.droppedTotal
}

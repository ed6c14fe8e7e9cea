// Package hub maintains, per space, the live set of subscriber queues and
// fans accepted events out to them. Delivery is fire-and-forget: the only
// error a sender ever sees is a failed timeline append, never a failed
// delivery to some subscriber.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sherzodv/tim/pkg/wire"
)

const (
	// DefaultBufferSize bounds each subscriber's outbound queue.
	DefaultBufferSize = 10

	// DefaultEnqueueTimeout is how long a publish waits on one full queue
	// before declaring that subscriber unreachable and evicting it. The wait
	// is per subscriber and never stalls delivery to the others beyond it.
	DefaultEnqueueTimeout = time.Second
)

// Hub is safe for concurrent use. The subscriber set is read by every publish
// and written by every subscribe/unsubscribe; locks are held only around the
// set itself, never across an enqueue.
type Hub struct {
	logger         *slog.Logger
	bufferSize     int
	enqueueTimeout time.Duration

	mu     sync.RWMutex
	spaces map[string]map[string]*Subscription // space -> session key -> sub
}

func New(logger *slog.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		logger:         logger.With(slog.String("component", "hub")),
		bufferSize:     bufferSize,
		enqueueTimeout: DefaultEnqueueTimeout,
		spaces:         make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a bounded outbound queue for the session. A second
// subscribe for the same session replaces the first, cancelling it.
func (h *Hub) Subscribe(space string, sess wire.Session, receiveOwn bool) *Subscription {
	sub := &Subscription{
		hub:        h,
		space:      space,
		sessionKey: sess.Key,
		timiteID:   sess.TimiteID,
		receiveOwn: receiveOwn,
		ch:         make(chan wire.SpaceEvent, h.bufferSize),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	subs, ok := h.spaces[space]
	if !ok {
		subs = make(map[string]*Subscription)
		h.spaces[space] = subs
	}
	prev := subs[sess.Key]
	subs[sess.Key] = sub
	h.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	h.logger.Debug("Subscriber registered",
		slog.String("space", space),
		slog.Uint64("timiteID", sess.TimiteID),
	)
	return sub
}

// Unsubscribe removes the session's registration eagerly.
func (h *Hub) Unsubscribe(space, sessionKey string) {
	h.mu.Lock()
	sub := h.spaces[space][sessionKey]
	h.removeLocked(space, sessionKey, sub)
	h.mu.Unlock()

	if sub != nil {
		sub.markDone()
	}
}

// removeLocked deletes the entry only if it still points at sub, so a
// replacement registered meanwhile is left alone.
func (h *Hub) removeLocked(space, sessionKey string, sub *Subscription) {
	subs, ok := h.spaces[space]
	if !ok {
		return
	}
	if cur, ok := subs[sessionKey]; !ok || cur != sub {
		return
	}
	delete(subs, sessionKey)
	if len(subs) == 0 {
		delete(h.spaces, space)
	}
}

// Publish fans the event out to every registered subscriber of the space,
// skipping the sender's own queue when it opted out of its own messages.
// It operates on a point-in-time snapshot: a subscriber joining mid-publish
// may miss this one event, but each queue stays strictly FIFO.
func (h *Hub) Publish(space string, e wire.SpaceEvent) {
	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.spaces[space]))
	for _, sub := range h.spaces[space] {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	senderID := e.SenderID()
	var dead []*Subscription
	for _, sub := range snapshot {
		if !sub.receiveOwn && senderID != 0 && sub.timiteID == senderID {
			continue
		}
		if !sub.enqueue(e, h.enqueueTimeout) {
			dead = append(dead, sub)
		}
	}

	// Lazy cleanup: subscribers whose queue could not accept the event are
	// removed within this publish cycle.
	if len(dead) > 0 {
		h.mu.Lock()
		for _, sub := range dead {
			h.removeLocked(sub.space, sub.sessionKey, sub)
		}
		h.mu.Unlock()
		for _, sub := range dead {
			sub.markDone()
			h.logger.Debug("Removed unreachable subscriber",
				slog.String("space", sub.space),
				slog.Uint64("timiteID", sub.timiteID),
			)
		}
	}
}

// Sweep removes every subscription already marked done, returning how many it
// dropped. The server runs this periodically as a backstop for queues that
// died without a publish in between.
func (h *Hub) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for space, subs := range h.spaces {
		for key, sub := range subs {
			if sub.isDone() {
				delete(subs, key)
				removed++
			}
		}
		if len(subs) == 0 {
			delete(h.spaces, space)
		}
	}
	return removed
}

// CountForTimite reports the number of live subscriptions held by the timite
// across all spaces.
func (h *Hub) CountForTimite(timiteID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, subs := range h.spaces {
		for _, sub := range subs {
			if sub.timiteID == timiteID && !sub.isDone() {
				count++
			}
		}
	}
	return count
}

// OldestForTimite returns any one live subscription of the timite, preferring
// none in particular; used by the cycle mode of the subscription limiter.
func (h *Hub) OldestForTimite(timiteID uint64) (*Subscription, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.spaces {
		for _, sub := range subs {
			if sub.timiteID == timiteID && !sub.isDone() {
				return sub, true
			}
		}
	}
	return nil, false
}

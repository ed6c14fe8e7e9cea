package hub

import (
	"sync"
	"time"

	"github.com/sherzodv/tim/pkg/wire"
)

// Subscription is one live registration. The hub owns it for the lifetime of
// the streaming call; the transport layer drains Events until Done closes.
type Subscription struct {
	hub        *Hub
	space      string
	sessionKey string
	timiteID   uint64
	receiveOwn bool

	ch       chan wire.SpaceEvent
	done     chan struct{}
	doneOnce sync.Once
}

// Events is the bounded outbound queue. The publisher never closes it;
// consumers must select on Done alongside it.
func (s *Subscription) Events() <-chan wire.SpaceEvent { return s.ch }

// Done closes when the subscription is cancelled or evicted.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// TimiteID identifies the subscribed session's timite.
func (s *Subscription) TimiteID() uint64 { return s.timiteID }

// Cancel removes the registration eagerly. Idempotent.
func (s *Subscription) Cancel() {
	s.hub.mu.Lock()
	s.hub.removeLocked(s.space, s.sessionKey, s)
	s.hub.mu.Unlock()
	s.markDone()
}

func (s *Subscription) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Subscription) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue offers the event to the queue. A full queue gets a bounded grace
// period; a queue still full after that, or an already-done subscription,
// reports false and the caller evicts it. The wait applies backpressure for
// this subscriber only.
func (s *Subscription) enqueue(e wire.SpaceEvent, timeout time.Duration) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.ch <- e:
		return true
	case <-s.done:
		return false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- e:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		return false
	}
}

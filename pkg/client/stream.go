package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sherzodv/tim/pkg/wire"
)

// Phase is the connection phase of a resilient stream.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseOpen         Phase = "open"
	PhaseReconnecting Phase = "reconnecting"
	PhaseStopped      Phase = "stopped"
)

const (
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 5 * time.Second
	backoffMaxAttempt = 5
)

// StreamDialer is the slice of Client the stream driver needs; split out so
// tests can drive the state machine without a server.
type StreamDialer interface {
	Subscribe(ctx context.Context) (EventStream, error)
	InvalidateSession()
}

// Stream keeps one subscription alive across failures. A single flow drives
// the whole lifecycle; suspension happens only while awaiting the next event
// or the backoff timer, and both waits honor the run context created by Start
// and cancelled by Stop.
//
// Phases: idle -> connecting -> open -> {reconnecting -> connecting} ->
// stopped. Stopped is terminal and is only reached through Stop.
type Stream struct {
	logger *slog.Logger
	dialer StreamDialer

	// OnEvent receives every delivered event, in arrival order.
	OnEvent func(e wire.SpaceEvent)
	// OnPhase receives every phase transition.
	OnPhase func(p Phase)

	// backoff is swappable for tests.
	backoff func(attempt int) time.Duration

	mu      sync.Mutex
	phase   Phase
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

func NewStream(logger *slog.Logger, dialer StreamDialer) *Stream {
	return &Stream{
		logger:  logger.With(slog.String("component", "stream")),
		dialer:  dialer,
		backoff: backoffDelay,
		phase:   PhaseIdle,
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt > backoffMaxAttempt {
		attempt = backoffMaxAttempt
	}
	delay := backoffBase << uint(attempt)
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

// Phase reports the current connection phase.
func (s *Stream) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start launches the stream driver. It is a no-op when already running and
// does not resurrect a stopped stream.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(runCtx)
	}()
}

// Stop cancels any in-flight dial, stream read or backoff wait and forces the
// stopped phase. Idempotent.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	} else {
		s.setPhase(PhaseStopped)
	}
}

// Done closes when the driver goroutine has fully exited. Nil before Start.
func (s *Stream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Stream) run(ctx context.Context) {
	defer s.setPhase(PhaseStopped)

	attempt := 0
	for {
		s.setPhase(PhaseConnecting)
		stream, err := s.dialer.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !s.retryAfter(ctx, err, &attempt) {
				return
			}
			continue
		}

		s.setPhase(PhaseOpen)
		attempt = 0
		err = s.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}
		if !s.retryAfter(ctx, err, &attempt) {
			return
		}
	}
}

func (s *Stream) consume(ctx context.Context, stream EventStream) error {
	for {
		e, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		if s.OnEvent != nil {
			s.OnEvent(e)
		}
	}
}

// retryAfter classifies the failure, transitions to reconnecting and performs
// the cancellable backoff wait. It reports false only when the run context is
// gone.
func (s *Stream) retryAfter(ctx context.Context, cause error, attempt *int) bool {
	// A dead session must not starve the retry loop: drop the cached session
	// so the next attempt re-acquires one.
	if errors.Is(cause, wire.ErrUnauthenticated) {
		s.logger.Warn("Session rejected, re-acquiring before retry")
		s.dialer.InvalidateSession()
	} else {
		s.logger.Warn("Stream interrupted, retrying", slog.Any("error", cause))
	}

	s.setPhase(PhaseReconnecting)
	delay := s.backoff(*attempt)
	*attempt++

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) setPhase(p Phase) {
	s.mu.Lock()
	if s.phase == PhaseStopped {
		s.mu.Unlock()
		return
	}
	if s.phase == p {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()

	if s.OnPhase != nil {
		s.OnPhase(p)
	}
}

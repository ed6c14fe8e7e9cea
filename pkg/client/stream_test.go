package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sherzodv/tim/pkg/wire"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func testEvent(id uint64) wire.SpaceEvent {
	return wire.SpaceEvent{
		Metadata: wire.EventMetadata{ID: id},
		Kind:     wire.KindNewMessage,
		Message:  &wire.Message{ID: id, SenderID: 2, Content: "m"},
	}
}

type dialResult struct {
	stream *fakeStream
	err    error
}

// scriptedDialer plays back a fixed sequence of dial outcomes.
type scriptedDialer struct {
	mu          sync.Mutex
	script      []dialResult
	calls       int
	invalidated int
}

func (d *scriptedDialer) Subscribe(ctx context.Context) (EventStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := dialResult{err: errors.New("script exhausted")}
	if d.calls < len(d.script) {
		r = d.script[d.calls]
	}
	d.calls++
	if r.stream != nil {
		return r.stream, nil
	}
	return nil, r.err
}

func (d *scriptedDialer) InvalidateSession() {
	d.mu.Lock()
	d.invalidated++
	d.mu.Unlock()
}

func (d *scriptedDialer) invalidations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.invalidated
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeStream struct {
	events    chan wire.SpaceEvent
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan wire.SpaceEvent, 8),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Recv(ctx context.Context) (wire.SpaceEvent, error) {
	select {
	case e := <-s.events:
		return e, nil
	case err := <-s.errs:
		return wire.SpaceEvent{}, err
	case <-s.closed:
		return wire.SpaceEvent{}, errors.New("stream closed")
	case <-ctx.Done():
		return wire.SpaceEvent{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func newFastStream(dialer StreamDialer) *Stream {
	s := NewStream(newTestLogger(), dialer)
	s.backoff = func(int) time.Duration { return time.Millisecond }
	return s
}

func waitPhase(t *testing.T, phases <-chan Phase, want Phase) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-phases:
			if p == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s", want)
		}
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for attempt, expected := range want {
		if got := backoffDelay(attempt); got != expected {
			t.Fatalf("attempt %d: want %s, got %s", attempt, expected, got)
		}
	}
}

func TestStreamRetriesUntilOpenAndDelivers(t *testing.T) {
	healthy := newFakeStream()
	dialer := &scriptedDialer{script: []dialResult{
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{stream: healthy},
	}}
	s := newFastStream(dialer)

	phases := make(chan Phase, 32)
	s.OnPhase = func(p Phase) { phases <- p }
	events := make(chan wire.SpaceEvent, 8)
	s.OnEvent = func(e wire.SpaceEvent) { events <- e }

	s.Start(context.Background())
	defer s.Stop()

	waitPhase(t, phases, PhaseConnecting)
	waitPhase(t, phases, PhaseReconnecting)
	waitPhase(t, phases, PhaseConnecting)
	waitPhase(t, phases, PhaseReconnecting)
	waitPhase(t, phases, PhaseOpen)

	healthy.events <- testEvent(1)
	select {
	case e := <-events:
		if e.Metadata.ID != 1 {
			t.Fatalf("wrong event delivered: %d", e.Metadata.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestStreamReconnectsAfterMidStreamFailure(t *testing.T) {
	first := newFakeStream()
	second := newFakeStream()
	dialer := &scriptedDialer{script: []dialResult{
		{stream: first},
		{stream: second},
	}}
	s := newFastStream(dialer)

	phases := make(chan Phase, 32)
	s.OnPhase = func(p Phase) { phases <- p }

	s.Start(context.Background())
	defer s.Stop()

	waitPhase(t, phases, PhaseOpen)
	first.errs <- errors.New("connection reset")
	waitPhase(t, phases, PhaseReconnecting)
	waitPhase(t, phases, PhaseOpen)
}

func TestUnauthenticatedFailureInvalidatesSession(t *testing.T) {
	healthy := newFakeStream()
	dialer := &scriptedDialer{script: []dialResult{
		{err: fmt.Errorf("%w: stream closed by server", wire.ErrUnauthenticated)},
		{stream: healthy},
	}}
	s := newFastStream(dialer)

	phases := make(chan Phase, 32)
	s.OnPhase = func(p Phase) { phases <- p }

	s.Start(context.Background())
	defer s.Stop()

	waitPhase(t, phases, PhaseOpen)
	if n := dialer.invalidations(); n != 1 {
		t.Fatalf("want 1 session invalidation, got %d", n)
	}
}

func TestStopIsTerminalAndIdempotent(t *testing.T) {
	healthy := newFakeStream()
	dialer := &scriptedDialer{script: []dialResult{{stream: healthy}}}
	s := newFastStream(dialer)

	phases := make(chan Phase, 32)
	s.OnPhase = func(p Phase) { phases <- p }

	s.Start(context.Background())
	waitPhase(t, phases, PhaseOpen)

	s.Stop()
	s.Stop()
	if p := s.Phase(); p != PhaseStopped {
		t.Fatalf("want stopped phase, got %s", p)
	}

	// A stopped stream must not dial again.
	dials := dialer.dialCount()
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Fatalf("stopped stream dialed again: %d -> %d", dials, got)
	}
}

func TestStopBeforeStart(t *testing.T) {
	dialer := &scriptedDialer{}
	s := newFastStream(dialer)
	s.Stop()

	if p := s.Phase(); p != PhaseStopped {
		t.Fatalf("want stopped, got %s", p)
	}
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if n := dialer.dialCount(); n != 0 {
		t.Fatalf("stream dialed after pre-start stop: %d", n)
	}
}

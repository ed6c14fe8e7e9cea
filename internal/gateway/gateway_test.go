package gateway_test

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sherzodv/tim/internal/gateway"
	"github.com/sherzodv/tim/pkg/hub"
	"github.com/sherzodv/tim/pkg/session"
	"github.com/sherzodv/tim/pkg/store"
	"github.com/sherzodv/tim/pkg/timeline"
	"github.com/sherzodv/tim/pkg/wire"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	logger := newTestLogger()
	st := store.NewMemory()
	sessions, err := session.NewRegistry(logger, st)
	if err != nil {
		t.Fatal(err)
	}
	return gateway.New(logger, sessions, timeline.NewLog(st), hub.New(logger, 10))
}

func register(t *testing.T, g *gateway.Gateway, nick string) wire.Session {
	t.Helper()
	sess, err := g.Register(wire.RegisterReq{Nick: nick})
	if err != nil {
		t.Fatalf("register %s failed: %v", nick, err)
	}
	return sess
}

func recvOne(t *testing.T, sub *hub.Subscription) wire.SpaceEvent {
	t.Helper()
	select {
	case e := <-sub.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return wire.SpaceEvent{}
	}
}

func TestAuthorize(t *testing.T) {
	g := newTestGateway(t)
	sess := register(t, g, "alice")

	got, err := g.Authorize(sess.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.TimiteID != sess.TimiteID {
		t.Fatalf("wrong session resolved: %+v", got)
	}

	if _, err := g.Authorize(""); !errors.Is(err, wire.ErrUnauthenticated) {
		t.Fatalf("empty key: want ErrUnauthenticated, got %v", err)
	}
	if _, err := g.Authorize("bogus"); !errors.Is(err, wire.ErrUnauthenticated) {
		t.Fatalf("unknown key: want ErrUnauthenticated, got %v", err)
	}
}

func TestSendMessageAppendsAndFansOut(t *testing.T) {
	g := newTestGateway(t)
	alice := register(t, g, "alice")
	bob := register(t, g, "bob")

	bobSub := g.Subscribe(bob, "lobby", false)
	defer g.Unsubscribe(bob, "lobby", bobSub)

	if err := g.SendMessage(alice, "lobby", "  hello bob  "); err != nil {
		t.Fatal(err)
	}

	got := recvOne(t, bobSub)
	if got.Kind != wire.KindNewMessage {
		t.Fatalf("want message event, got %s", got.Kind)
	}
	if got.Message.Content != "hello bob" {
		t.Fatalf("content not trimmed: %q", got.Message.Content)
	}
	if got.Message.SenderID != alice.TimiteID {
		t.Fatalf("wrong sender: %d", got.Message.SenderID)
	}

	res, err := g.Timeline("lobby", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range res.Events {
		if e.Kind == wire.KindNewMessage && e.Message.Content == "hello bob" {
			found = true
		}
	}
	if !found {
		t.Fatal("sent message missing from timeline")
	}
}

func TestSendMessageWhitespaceIsNoOp(t *testing.T) {
	g := newTestGateway(t)
	alice := register(t, g, "alice")

	if err := g.SendMessage(alice, "lobby", "   \t\n  "); err != nil {
		t.Fatal(err)
	}

	size, err := g.Timeline("lobby", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(size.Events) != 0 {
		t.Fatalf("whitespace send must not append, timeline has %d events", len(size.Events))
	}
}

func TestSubscribeAnnouncesPresence(t *testing.T) {
	g := newTestGateway(t)
	alice := register(t, g, "alice")
	bob := register(t, g, "bob")

	aliceSub := g.Subscribe(alice, "lobby", false)
	defer aliceSub.Cancel()

	bobSub := g.Subscribe(bob, "lobby", false)

	arrival := recvOne(t, aliceSub)
	if arrival.Kind != wire.KindTimiteConnected {
		t.Fatalf("want connected event, got %s", arrival.Kind)
	}
	if arrival.Timite == nil || arrival.Timite.Nick != "bob" {
		t.Fatalf("wrong arrival payload: %+v", arrival.Timite)
	}

	g.Unsubscribe(bob, "lobby", bobSub)
	departure := recvOne(t, aliceSub)
	if departure.Kind != wire.KindTimiteDisconnected {
		t.Fatalf("want disconnected event, got %s", departure.Kind)
	}

	select {
	case <-bobSub.Done():
	default:
		t.Fatal("unsubscribed stream not marked done")
	}
}

func TestTimelineResolvesTimiteRecords(t *testing.T) {
	g := newTestGateway(t)
	alice := register(t, g, "alice")
	bob := register(t, g, "bob")

	if err := g.SendMessage(alice, "lobby", "one"); err != nil {
		t.Fatal(err)
	}
	if err := g.SendMessage(bob, "lobby", "two"); err != nil {
		t.Fatal(err)
	}

	res, err := g.Timeline("lobby", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("want 2 events, got %d", len(res.Events))
	}
	if res.Events[0].Metadata.ID >= res.Events[1].Metadata.ID {
		t.Fatal("timeline not in ascending id order")
	}

	nicks := make(map[uint64]string)
	for _, timite := range res.Timites {
		nicks[timite.ID] = timite.Nick
	}
	if nicks[alice.TimiteID] != "alice" || nicks[bob.TimiteID] != "bob" {
		t.Fatalf("timite records incomplete: %+v", res.Timites)
	}
}

func TestDefaultSpaceFallback(t *testing.T) {
	g := newTestGateway(t)
	alice := register(t, g, "alice")

	if err := g.SendMessage(alice, "", "to the lobby"); err != nil {
		t.Fatal(err)
	}

	res, err := g.Timeline(wire.DefaultSpace, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("message not routed to default space, got %d events", len(res.Events))
	}
}

// Package gateway is the request-handling facade: it authorizes calls against
// the session registry and drives accepted sends through the timeline log and
// the subscriber hub.
package gateway

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sherzodv/tim/pkg/hub"
	"github.com/sherzodv/tim/pkg/session"
	"github.com/sherzodv/tim/pkg/timeline"
	"github.com/sherzodv/tim/pkg/wire"
)

type Gateway struct {
	logger   *slog.Logger
	sessions *session.Registry
	log      *timeline.Log
	hub      *hub.Hub
}

func New(logger *slog.Logger, sessions *session.Registry, log *timeline.Log, h *hub.Hub) *Gateway {
	return &Gateway{
		logger:   logger.With(slog.String("component", "gateway")),
		sessions: sessions,
		log:      log,
		hub:      h,
	}
}

func (g *Gateway) Register(req wire.RegisterReq) (wire.Session, error) {
	return g.sessions.Register(req.Nick, req.Client)
}

func (g *Gateway) Connect(req wire.ConnectReq) (wire.Session, error) {
	return g.sessions.Connect(req.Timite, req.Client)
}

// Authorize resolves the session key carried on a call.
func (g *Gateway) Authorize(key string) (wire.Session, error) {
	if key == "" {
		return wire.Session{}, wire.ErrUnauthenticated
	}
	return g.sessions.Resolve(key)
}

// SendMessage appends the message to the space's timeline and fans it out.
// Only the append can fail the call; delivery is fire-and-forget.
func (g *Gateway) SendMessage(sess wire.Session, space, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if space == "" {
		space = wire.DefaultSpace
	}

	stored, err := g.log.Append(space, wire.SpaceEvent{
		Kind: wire.KindNewMessage,
		Message: &wire.Message{
			SenderID: sess.TimiteID,
			Content:  content,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", wire.ErrInternal, err)
	}

	g.logger.Debug("Message accepted",
		slog.String("space", space),
		slog.Uint64("senderID", sess.TimiteID),
		slog.Uint64("eventID", stored.Metadata.ID),
	)
	g.hub.Publish(space, stored)
	return nil
}

// Subscribe registers the session on the space's hub and announces its
// presence to the space.
func (g *Gateway) Subscribe(sess wire.Session, space string, receiveOwn bool) *hub.Subscription {
	if space == "" {
		space = wire.DefaultSpace
	}
	sub := g.hub.Subscribe(space, sess, receiveOwn)
	g.announce(sess, space, wire.KindTimiteConnected)
	return sub
}

// Unsubscribe tears the subscription down eagerly and announces the
// departure.
func (g *Gateway) Unsubscribe(sess wire.Session, space string, sub *hub.Subscription) {
	if space == "" {
		space = wire.DefaultSpace
	}
	sub.Cancel()
	g.announce(sess, space, wire.KindTimiteDisconnected)
}

// announce publishes a presence event. Presence failures never surface to the
// subscriber whose arrival or departure caused them.
func (g *Gateway) announce(sess wire.Session, space string, kind wire.EventKind) {
	stored, err := g.log.Append(space, wire.SpaceEvent{
		Kind:   kind,
		Timite: &wire.Timite{ID: sess.TimiteID, Nick: sess.Nick},
	})
	if err != nil {
		g.logger.Error("Failed to append presence event",
			slog.String("space", space),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return
	}
	g.hub.Publish(space, stored)
}

// Timeline returns one history page plus the timite records referenced by it
// so clients can resolve nicks without extra round-trips.
func (g *Gateway) Timeline(space string, offset uint64, size uint32) (wire.TimelineRes, error) {
	if space == "" {
		space = wire.DefaultSpace
	}
	events, err := g.log.Page(space, offset, size)
	if err != nil {
		return wire.TimelineRes{}, fmt.Errorf("%w: %v", wire.ErrInternal, err)
	}

	timites := make([]wire.Timite, 0)
	for _, id := range collectTimiteIDs(events) {
		t, ok, err := g.sessions.FetchTimite(id)
		if err != nil {
			return wire.TimelineRes{}, fmt.Errorf("%w: %v", wire.ErrInternal, err)
		}
		if ok {
			timites = append(timites, t)
		}
	}

	return wire.TimelineRes{
		Offset:  offset,
		Size:    size,
		Events:  events,
		Timites: timites,
	}, nil
}

func collectTimiteIDs(events []wire.SpaceEvent) []uint64 {
	seen := make(map[uint64]struct{})
	for i := range events {
		if id := events[i].SenderID(); id != 0 {
			seen[id] = struct{}{}
		}
	}
	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

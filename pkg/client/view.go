package client

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sherzodv/tim/pkg/wire"
)

// ItemKind discriminates display items.
type ItemKind string

const (
	ItemMessage ItemKind = "message"
	ItemSystem  ItemKind = "system"
)

// Item is one displayable row. Derived, never authoritative: the view is
// rebuilt wholesale from events on every history reload.
type Item struct {
	Kind    ItemKind
	ID      uint64
	Author  string
	Content string
	Time    time.Time
}

type itemKey struct {
	kind ItemKind
	id   uint64
}

// View is the client-held ordered sequence of display items, built by merging
// one history page with the live stream. Items are keyed by (kind, id); an
// event observed twice renders once.
type View struct {
	mu    sync.Mutex
	items []Item
	seen  map[itemKey]struct{}
	nicks map[uint64]string

	// watermark fences the bootstrap/subscribe race: live events with an id
	// at or below the last applied history id are straggling duplicates.
	watermark uint64
}

func NewView(selfID uint64, selfNick string) *View {
	v := &View{
		seen:  make(map[itemKey]struct{}),
		nicks: make(map[uint64]string),
	}
	if selfNick != "" {
		v.nicks[selfID] = selfNick
	}
	return v
}

// SetHistory replaces the view wholesale with one bootstrap page. Events are
// sorted by id first to defend against out-of-order transport delivery.
func (v *View) SetHistory(res wire.TimelineRes) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, t := range res.Timites {
		v.nicks[t.ID] = t.Nick
	}

	events := make([]wire.SpaceEvent, len(res.Events))
	copy(events, res.Events)
	sort.Slice(events, func(i, j int) bool {
		return events[i].Metadata.ID < events[j].Metadata.ID
	})

	v.items = v.items[:0]
	v.seen = make(map[itemKey]struct{})
	v.watermark = 0
	for i := range events {
		v.applyLocked(events[i])
		if events[i].Metadata.ID > v.watermark {
			v.watermark = events[i].Metadata.ID
		}
	}
}

// ApplyEvent appends one live event, dropping fenced or already-seen ones.
func (v *View) ApplyEvent(e wire.SpaceEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e.Metadata.ID != 0 && e.Metadata.ID <= v.watermark {
		return
	}
	v.applyLocked(e)
}

func (v *View) applyLocked(e wire.SpaceEvent) {
	var item Item
	switch e.Kind {
	case wire.KindNewMessage:
		if e.Message == nil {
			return
		}
		item = Item{
			Kind:    ItemMessage,
			ID:      e.Metadata.ID,
			Author:  v.nickLocked(e.Message.SenderID),
			Content: e.Message.Content,
			Time:    e.Metadata.EmittedAt,
		}
	case wire.KindTimiteConnected:
		if e.Timite == nil {
			return
		}
		v.nicks[e.Timite.ID] = e.Timite.Nick
		item = Item{
			Kind:    ItemSystem,
			ID:      e.Metadata.ID,
			Content: e.Timite.Nick + " joined the space",
			Time:    e.Metadata.EmittedAt,
		}
	case wire.KindTimiteDisconnected:
		if e.Timite == nil {
			return
		}
		item = Item{
			Kind:    ItemSystem,
			ID:      e.Metadata.ID,
			Content: e.Timite.Nick + " left the space",
			Time:    e.Metadata.EmittedAt,
		}
	default:
		return
	}

	key := itemKey{kind: item.Kind, id: item.ID}
	if _, dup := v.seen[key]; dup {
		return
	}
	v.seen[key] = struct{}{}
	v.items = append(v.items, item)
}

// ApplyPhase appends a synthetic system item describing a connectivity
// transition, so the view always reflects current connectivity.
func (v *View) ApplyPhase(p Phase) {
	var text string
	switch p {
	case PhaseConnecting:
		text = "Connecting..."
	case PhaseOpen:
		text = "Connected"
	case PhaseReconnecting:
		text = "Connection lost, retrying..."
	case PhaseStopped:
		text = "Disconnected"
	default:
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = append(v.items, Item{
		Kind:    ItemSystem,
		Content: text,
		Time:    time.Now(),
	})
}

// Items returns a snapshot copy of the current display sequence.
func (v *View) Items() []Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Item, len(v.items))
	copy(out, v.items)
	return out
}

// Len reports the number of display items.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

func (v *View) nickLocked(id uint64) string {
	if nick, ok := v.nicks[id]; ok {
		return nick
	}
	return fmt.Sprintf("user-%d", id)
}

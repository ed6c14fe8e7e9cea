// Package store is the persistence layer: timites, sessions and per-space
// timelines behind one keyspace. The badger backend survives restarts; the
// memory backend serves tests and storage-less deployments.
package store

import (
	"github.com/sherzodv/tim/pkg/wire"
)

type Store interface {
	// --- Timite directory ---
	StoreTimite(t wire.Timite) error
	FetchTimite(id uint64) (wire.Timite, bool, error)
	// MaxTimiteID returns the highest issued timite id, 0 when none exist.
	// Used to seed the id counter on startup.
	MaxTimiteID() (uint64, error)

	// --- Sessions ---
	StoreSession(s wire.Session) error
	FetchSession(key string) (wire.Session, bool, error)

	// --- Timeline log ---
	AppendEvent(space string, e wire.SpaceEvent) error
	// FetchEvents returns events with id >= offset in ascending id order,
	// capped at size.
	FetchEvents(space string, offset uint64, size uint32) ([]wire.SpaceEvent, error)
	EventCount(space string) (uint64, error)
	// MaxEventID returns the highest event id in the space, 0 when empty.
	MaxEventID(space string) (uint64, error)

	Close() error
}

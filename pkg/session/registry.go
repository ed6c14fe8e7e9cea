// Package session issues and resolves the opaque keys that bind connections
// to timite identities. Trust-on-first-use: identity is self-asserted at
// registration, the registry only guarantees uniqueness of the ids it issues.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sherzodv/tim/pkg/store"
	"github.com/sherzodv/tim/pkg/wire"
)

// Registry owns the session map. Clients hold copies of sessions; the
// registry stays authoritative. No expiry: a key is valid as long as the
// backing store holds it.
type Registry struct {
	store     store.Store
	timiteCnt atomic.Uint64
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger, st store.Store) (*Registry, error) {
	maxID, err := st.MaxTimiteID()
	if err != nil {
		return nil, fmt.Errorf("failed to recover timite id counter: %w", err)
	}
	r := &Registry{
		store:  st,
		logger: logger.With(slog.String("component", "session_registry")),
	}
	r.timiteCnt.Store(maxID)
	return r, nil
}

// Register allocates a fresh timite identity and mints a session for it.
func (r *Registry) Register(nick string, info wire.ClientInfo) (wire.Session, error) {
	timite := wire.Timite{
		ID:   r.timiteCnt.Add(1),
		Nick: nick,
	}
	if err := r.store.StoreTimite(timite); err != nil {
		return wire.Session{}, fmt.Errorf("failed to store timite: %w", err)
	}
	sess, err := r.mint(timite, info)
	if err != nil {
		return wire.Session{}, err
	}
	r.logger.Info("Registered new timite", slog.Uint64("timiteID", timite.ID), slog.String("nick", nick))
	return sess, nil
}

// Connect mints a new session for an already-known timite. Unknown ids get
// wire.ErrTimiteNotFound so the caller can fall back to Register.
func (r *Registry) Connect(timite wire.Timite, info wire.ClientInfo) (wire.Session, error) {
	known, ok, err := r.store.FetchTimite(timite.ID)
	if err != nil {
		return wire.Session{}, fmt.Errorf("failed to look up timite: %w", err)
	}
	if !ok {
		return wire.Session{}, fmt.Errorf("timite %d: %w", timite.ID, wire.ErrTimiteNotFound)
	}
	sess, err := r.mint(known, info)
	if err != nil {
		return wire.Session{}, err
	}
	r.logger.Info("Timite reconnected", slog.Uint64("timiteID", known.ID), slog.String("nick", known.Nick))
	return sess, nil
}

// Resolve is the pure lookup used to authorize every call.
func (r *Registry) Resolve(key string) (wire.Session, error) {
	sess, ok, err := r.store.FetchSession(key)
	if err != nil {
		return wire.Session{}, fmt.Errorf("failed to look up session: %w", err)
	}
	if !ok {
		return wire.Session{}, wire.ErrUnauthenticated
	}
	return sess, nil
}

// FetchTimite resolves a timite id to its stored record.
func (r *Registry) FetchTimite(id uint64) (wire.Timite, bool, error) {
	return r.store.FetchTimite(id)
}

func (r *Registry) mint(timite wire.Timite, info wire.ClientInfo) (wire.Session, error) {
	key, err := newSessionKey()
	if err != nil {
		return wire.Session{}, err
	}
	sess := wire.Session{
		Key:       key,
		TimiteID:  timite.ID,
		Nick:      timite.Nick,
		CreatedAt: time.Now().UTC(),
		Client:    info,
	}
	if err := r.store.StoreSession(sess); err != nil {
		return wire.Session{}, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

// newSessionKey returns 256 bits of entropy as hex.
func newSessionKey() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate session key: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

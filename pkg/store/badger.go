package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/sherzodv/tim/pkg/wire"
)

// Key layout. Numeric suffixes are big-endian so prefix iteration yields id
// order.
func timitePrefix() []byte { return []byte("t:id:") }

func timiteKey(id uint64) []byte {
	k := timitePrefix()
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return append(k, b[:]...)
}

func sessionKey(key string) []byte {
	return []byte("s:" + key)
}

// The space name is length-prefixed so that one space's key range is never a
// byte prefix of another's (space "a" vs space "a:b").
func eventPrefix(space string) []byte {
	return []byte(fmt.Sprintf("e:%d:%s:", len(space), space))
}

func eventKey(space string, id uint64) []byte {
	k := eventPrefix(space)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return append(k, b[:]...)
}

// BadgerStore keeps all server state in a single BadgerDB directory.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

func OpenBadger(dirPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dirPath).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerStore) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) getJSON(key []byte, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) StoreTimite(t wire.Timite) error {
	return s.setJSON(timiteKey(t.ID), &t)
}

func (s *BadgerStore) FetchTimite(id uint64) (wire.Timite, bool, error) {
	var t wire.Timite
	ok, err := s.getJSON(timiteKey(id), &t)
	return t, ok, err
}

func (s *BadgerStore) MaxTimiteID() (uint64, error) {
	return s.maxIDWithPrefix(timitePrefix())
}

func (s *BadgerStore) StoreSession(sess wire.Session) error {
	return s.setJSON(sessionKey(sess.Key), &sess)
}

func (s *BadgerStore) FetchSession(key string) (wire.Session, bool, error) {
	var sess wire.Session
	ok, err := s.getJSON(sessionKey(key), &sess)
	return sess, ok, err
}

func (s *BadgerStore) AppendEvent(space string, e wire.SpaceEvent) error {
	return s.setJSON(eventKey(space, e.Metadata.ID), &e)
}

func (s *BadgerStore) FetchEvents(space string, offset uint64, size uint32) ([]wire.SpaceEvent, error) {
	events := make([]wire.SpaceEvent, 0, size)
	if size == 0 {
		return events, nil
	}
	prefix := eventPrefix(space)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(space, offset)); it.ValidForPrefix(prefix); it.Next() {
			var e wire.SpaceEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			events = append(events, e)
			if uint32(len(events)) >= size {
				break
			}
		}
		return nil
	})
	return events, err
}

func (s *BadgerStore) EventCount(space string) (uint64, error) {
	prefix := eventPrefix(space)
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) MaxEventID(space string) (uint64, error) {
	return s.maxIDWithPrefix(eventPrefix(space))
}

// maxIDWithPrefix reads the big-endian id suffix of the last key under the
// prefix by iterating in reverse from just past it.
func (s *BadgerStore) maxIDWithPrefix(prefix []byte) (uint64, error) {
	var max uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the first key after the prefix range, then the next item in
		// reverse order is the max key of the range, if any.
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) >= len(prefix)+8 {
				max = binary.BigEndian.Uint64(key[len(prefix):])
			}
			return nil
		}
		return nil
	})
	return max, err
}

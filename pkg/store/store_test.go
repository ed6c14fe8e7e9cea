package store_test

import (
	"testing"
	"time"

	"github.com/sherzodv/tim/pkg/store"
	"github.com/sherzodv/tim/pkg/wire"
)

// Both backends must satisfy the same contract; every test runs against each.
func withEachBackend(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemory())
	})
	t.Run("badger", func(t *testing.T) {
		st, err := store.OpenBadger(t.TempDir())
		if err != nil {
			t.Fatalf("failed to open badger store: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		fn(t, st)
	})
}

func messageEvent(id uint64, content string) wire.SpaceEvent {
	return wire.SpaceEvent{
		Metadata: wire.EventMetadata{ID: id, EmittedAt: time.Now().UTC()},
		Kind:     wire.KindNewMessage,
		Message:  &wire.Message{ID: id, SenderID: 1, Content: content},
	}
}

func TestTimiteRoundtrip(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st store.Store) {
		if _, ok, err := st.FetchTimite(1); err != nil || ok {
			t.Fatalf("unexpected timite in empty store: ok=%v err=%v", ok, err)
		}

		want := wire.Timite{ID: 7, Nick: "alice"}
		if err := st.StoreTimite(want); err != nil {
			t.Fatal(err)
		}
		got, ok, err := st.FetchTimite(7)
		if err != nil || !ok {
			t.Fatalf("fetch failed: ok=%v err=%v", ok, err)
		}
		if got != want {
			t.Fatalf("want %+v, got %+v", want, got)
		}
	})
}

func TestMaxTimiteID(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st store.Store) {
		if max, err := st.MaxTimiteID(); err != nil || max != 0 {
			t.Fatalf("empty store max: %d err=%v", max, err)
		}
		for _, id := range []uint64{3, 12, 5} {
			if err := st.StoreTimite(wire.Timite{ID: id, Nick: "n"}); err != nil {
				t.Fatal(err)
			}
		}
		max, err := st.MaxTimiteID()
		if err != nil {
			t.Fatal(err)
		}
		if max != 12 {
			t.Fatalf("want max 12, got %d", max)
		}
	})
}

func TestSessionRoundtrip(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st store.Store) {
		sess := wire.Session{
			Key:       "secret-key",
			TimiteID:  4,
			Nick:      "bob",
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Client:    wire.ClientInfo{Platform: "terminal"},
		}
		if err := st.StoreSession(sess); err != nil {
			t.Fatal(err)
		}

		got, ok, err := st.FetchSession("secret-key")
		if err != nil || !ok {
			t.Fatalf("fetch failed: ok=%v err=%v", ok, err)
		}
		if got.TimiteID != 4 || got.Nick != "bob" || got.Client.Platform != "terminal" {
			t.Fatalf("session corrupted: %+v", got)
		}

		if _, ok, err := st.FetchSession("unknown"); err != nil || ok {
			t.Fatalf("unknown key should miss: ok=%v err=%v", ok, err)
		}
	})
}

func TestEventWindowAndCounts(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st store.Store) {
		for id := uint64(1); id <= 5; id++ {
			if err := st.AppendEvent("lobby", messageEvent(id, "m")); err != nil {
				t.Fatal(err)
			}
		}
		if err := st.AppendEvent("side", messageEvent(1, "other")); err != nil {
			t.Fatal(err)
		}

		events, err := st.FetchEvents("lobby", 2, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 3 {
			t.Fatalf("want 3 events, got %d", len(events))
		}
		for i, e := range events {
			if want := uint64(2 + i); e.Metadata.ID != want {
				t.Fatalf("position %d: want id %d, got %d", i, want, e.Metadata.ID)
			}
		}

		count, err := st.EventCount("lobby")
		if err != nil {
			t.Fatal(err)
		}
		if count != 5 {
			t.Fatalf("want count 5, got %d", count)
		}

		max, err := st.MaxEventID("lobby")
		if err != nil {
			t.Fatal(err)
		}
		if max != 5 {
			t.Fatalf("want max id 5, got %d", max)
		}

		if max, err := st.MaxEventID("empty"); err != nil || max != 0 {
			t.Fatalf("empty space max: %d err=%v", max, err)
		}
	})
}

func TestSpaceKeyRangesDoNotOverlap(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st store.Store) {
		// "a" must not see events of "a:b" even though its name is a byte
		// prefix of the other's.
		if err := st.AppendEvent("a", messageEvent(1, "in a")); err != nil {
			t.Fatal(err)
		}
		if err := st.AppendEvent("a:b", messageEvent(1, "in a:b")); err != nil {
			t.Fatal(err)
		}

		events, err := st.FetchEvents("a", 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].Message.Content != "in a" {
			t.Fatalf("space a leaked foreign events: %+v", events)
		}

		for _, space := range []string{"a", "a:b"} {
			count, err := st.EventCount(space)
			if err != nil {
				t.Fatal(err)
			}
			if count != 1 {
				t.Fatalf("space %q: want count 1, got %d", space, count)
			}
			max, err := st.MaxEventID(space)
			if err != nil {
				t.Fatal(err)
			}
			if max != 1 {
				t.Fatalf("space %q: want max id 1, got %d", space, max)
			}
		}
	})
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	st, err := store.OpenBadger(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.StoreTimite(wire.Timite{ID: 2, Nick: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendEvent("lobby", messageEvent(1, "persisted")); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = store.OpenBadger(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if _, ok, err := st.FetchTimite(2); err != nil || !ok {
		t.Fatalf("timite lost across reopen: ok=%v err=%v", ok, err)
	}
	max, err := st.MaxEventID("lobby")
	if err != nil {
		t.Fatal(err)
	}
	if max != 1 {
		t.Fatalf("event log lost across reopen: max=%d", max)
	}
}

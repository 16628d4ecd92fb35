package socktable_test

import (
	"testing"

	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
	"github.com/hensoldt-cyber/networkstackd/internal/events"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

func newTable(quotaA, quotaB int) *socktable.Table {
	return socktable.New(4, []socktable.Client{
		{ClientID: 1, InUse: true, SocketQuota: quotaA},
		{ClientID: 2, InUse: true, SocketQuota: quotaB},
	})
}

func TestReserveAndFreeHandle(t *testing.T) {
	tbl := newTable(2, 1)

	h, err := tbl.ReserveHandle(1, socktable.Dgram, "eng-a")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if h != 0 {
		t.Fatalf("expected lowest-index slot 0, got %d", h)
	}

	slot, err := tbl.Lookup(h, 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if slot.Status != socktable.InUse || slot.OwnerClientID != 1 {
		t.Fatalf("unexpected slot state: %+v", slot)
	}

	if err := tbl.FreeHandle(h, 1); err != nil {
		t.Fatalf("free: %v", err)
	}
	if _, err := tbl.Lookup(h, 1); !errkind.InvalidHandle.Is(err) {
		t.Fatalf("expected InvalidHandle after free, got %v", err)
	}
}

// The (quota+1)-th concurrent create fails and does not increment
// current_sockets_in_use.
func TestQuotaExhaustion(t *testing.T) {
	tbl := newTable(0, 1)

	h, err := tbl.ReserveHandle(2, socktable.Stream, "eng-b")
	if err != nil {
		t.Fatalf("first reserve should succeed: %v", err)
	}
	_ = h

	_, err = tbl.ReserveHandle(2, socktable.Stream, "eng-b2")
	if !errkind.OutOfBounds.Is(err) {
		t.Fatalf("expected OutOfBounds on quota exhaustion, got %v", err)
	}

	c, ok := tbl.Client(1)
	if !ok || c.CurrentSocketsInUse != 1 {
		t.Fatalf("expected current_sockets_in_use to remain 1, got %+v", c)
	}
}

// Handle ownership mismatch returns InvalidHandle and mutates no state.
func TestOwnershipMismatch(t *testing.T) {
	tbl := newTable(2, 2)

	h, err := tbl.ReserveHandle(1, socktable.Stream, "eng-a")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := tbl.FreeHandle(h, 2); !errkind.InvalidHandle.Is(err) {
		t.Fatalf("expected InvalidHandle for wrong owner, got %v", err)
	}

	slot, err := tbl.Lookup(h, 1)
	if err != nil || slot.Status != socktable.InUse {
		t.Fatalf("slot should be untouched by the failed free: %+v, %v", slot, err)
	}
}

func TestSetParentHandle(t *testing.T) {
	tbl := newTable(2, 2)

	parent, err := tbl.ReserveHandle(1, socktable.Stream, "listener")
	if err != nil {
		t.Fatalf("reserve parent: %v", err)
	}
	child, err := tbl.ReserveHandle(1, socktable.Stream, "accepted")
	if err != nil {
		t.Fatalf("reserve child: %v", err)
	}

	if err := tbl.SetParentHandle(child, parent); err != nil {
		t.Fatalf("set parent: %v", err)
	}

	slot, _ := tbl.Lookup(child, 1)
	if slot.ParentHandle != parent {
		t.Fatalf("expected parent handle %d, got %d", parent, slot.ParentHandle)
	}
}

func TestHarvestClampsToDataportSizeAndCursorWraps(t *testing.T) {
	tbl := newTable(4, 4)

	var handles []socktable.Handle
	for i := 0; i < 3; i++ {
		h, err := tbl.ReserveHandle(1, socktable.Dgram, i)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		handles = append(handles, h)
		if err := tbl.Mutate(h, 1, func(s *socktable.Slot) error {
			s.EventMask.Set(events.BitRead)
			return nil
		}); err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}

	// budget for exactly 2 records
	recs, err := tbl.Harvest(0, 2*events.RecordSize, 1<<20)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records (cap), got %d", len(recs))
	}

	c, _ := tbl.Client(0)
	if !c.NeedsToBeNotified {
		t.Fatalf("expected NeedsToBeNotified after capped harvest")
	}
	if c.Head != c.Tail {
		t.Fatalf("expected head==tail at end of harvest, head=%d tail=%d", c.Head, c.Tail)
	}

	// READ is sticky, so the next harvest reports all three slots again,
	// starting at the cursor (slot 2) and wrapping around to slots 0 and 1.
	recs2, err := tbl.Harvest(0, 10*events.RecordSize, 1<<20)
	if err != nil {
		t.Fatalf("harvest2: %v", err)
	}
	if len(recs2) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs2))
	}
	for i, want := range []socktable.Handle{handles[2], handles[0], handles[1]} {
		if recs2[i].SocketHandle != int32(want) {
			t.Fatalf("record %d: expected handle %d, got %d", i, want, recs2[i].SocketHandle)
		}
	}
}

func TestHarvestClearsSelfDescribingKeepsSticky(t *testing.T) {
	tbl := newTable(4, 4)
	h, err := tbl.ReserveHandle(1, socktable.Dgram, "x")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tbl.Mutate(h, 1, func(s *socktable.Slot) error {
		s.EventMask.Set(events.BitRead)
		s.EventMask.Set(events.BitConnEst)
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if _, err := tbl.Harvest(0, 10*events.RecordSize, 1<<20); err != nil {
		t.Fatalf("harvest: %v", err)
	}

	slot, _ := tbl.Lookup(h, 1)
	if slot.EventMask.IsSet(events.BitConnEst) {
		t.Fatalf("expected CONN_EST cleared after harvest")
	}
	if !slot.EventMask.IsSet(events.BitRead) {
		t.Fatalf("expected READ (sticky) to remain set after harvest")
	}
}

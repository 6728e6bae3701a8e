package slab

import (
	"testing"

	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/side"
)

func TestInsertFindRemove(t *testing.T) {
	tr := NewTree(8)
	ids := []orderid.ID{
		orderid.Gen(100, side.Ask, 1),
		orderid.Gen(105, side.Ask, 2),
		orderid.Gen(95, side.Ask, 3),
		orderid.Gen(110, side.Ask, 4),
	}
	for i, id := range ids {
		if _, err := tr.Insert(id, uint64(i+1), CallbackInfo{}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if tr.Len() != len(ids) {
		t.Fatalf("Len() = %d, want %d", tr.Len(), len(ids))
	}
	for i, id := range ids {
		leaf, ok := tr.Find(id)
		if !ok {
			t.Fatalf("Find(%d) missed", i)
		}
		if leaf.BaseQuantity != uint64(i+1) {
			t.Fatalf("Find(%d).BaseQuantity = %d, want %d", i, leaf.BaseQuantity, i+1)
		}
	}

	removed, ok := tr.Remove(ids[1])
	if !ok || removed.BaseQuantity != 2 {
		t.Fatalf("Remove(ids[1]) = %+v, %v", removed, ok)
	}
	if tr.Len() != len(ids)-1 {
		t.Fatalf("Len() after remove = %d, want %d", tr.Len(), len(ids)-1)
	}
	if _, ok := tr.Find(ids[1]); ok {
		t.Fatalf("Find found removed key")
	}
}

func TestMinMaxOrdering(t *testing.T) {
	tr := NewTree(8)
	prices := []uint64{50, 10, 70, 30}
	for i, p := range prices {
		id := orderid.Gen(p, side.Ask, uint64(i))
		if _, err := tr.Insert(id, 1, CallbackInfo{}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	minLeaf, _, ok := tr.Min()
	if !ok || orderid.PriceFromKey(minLeaf.Key) != 10 {
		t.Fatalf("Min price = %d, want 10", orderid.PriceFromKey(minLeaf.Key))
	}
	maxLeaf, _, ok := tr.Max()
	if !ok || orderid.PriceFromKey(maxLeaf.Key) != 70 {
		t.Fatalf("Max price = %d, want 70", orderid.PriceFromKey(maxLeaf.Key))
	}
}

func TestBidMaxIsHighestPriceLowestSeq(t *testing.T) {
	tr := NewTree(8)
	a := orderid.Gen(100, side.Bid, 1) // earlier, same price
	b := orderid.Gen(100, side.Bid, 2) // later, same price
	c := orderid.Gen(90, side.Bid, 3)  // lower price
	for _, id := range []orderid.ID{a, b, c} {
		if _, err := tr.Insert(id, 1, CallbackInfo{}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	best, _, ok := tr.Max()
	if !ok || best.Key != a {
		t.Fatalf("Max() = %+v, want the earliest order at the best price", best)
	}
}

func TestRemoveMinRemoveMax(t *testing.T) {
	tr := NewTree(8)
	for i, p := range []uint64{10, 20, 30} {
		id := orderid.Gen(p, side.Ask, uint64(i))
		if _, err := tr.Insert(id, 1, CallbackInfo{}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	leaf, ok := tr.RemoveMin()
	if !ok || orderid.PriceFromKey(leaf.Key) != 10 {
		t.Fatalf("RemoveMin price = %d, want 10", orderid.PriceFromKey(leaf.Key))
	}
	leaf, ok = tr.RemoveMax()
	if !ok || orderid.PriceFromKey(leaf.Key) != 30 {
		t.Fatalf("RemoveMax price = %d, want 30", orderid.PriceFromKey(leaf.Key))
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
}

func TestOutOfSpace(t *testing.T) {
	tr := NewTree(2)
	for i := 0; i < 2; i++ {
		id := orderid.Gen(uint64(i*10), side.Ask, uint64(i))
		if _, err := tr.Insert(id, 1, CallbackInfo{}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	id := orderid.Gen(999, side.Ask, 99)
	if _, err := tr.Insert(id, 1, CallbackInfo{}); err != ErrSlabOutOfSpace {
		t.Fatalf("Insert at capacity = %v, want ErrSlabOutOfSpace", err)
	}
	// Tree must be left exactly as it was.
	if tr.Len() != 2 {
		t.Fatalf("Len() after failed insert = %d, want 2", tr.Len())
	}
}

func TestSnapshotRestore(t *testing.T) {
	tr := NewTree(8)
	id1 := orderid.Gen(10, side.Ask, 0)
	if _, err := tr.Insert(id1, 5, CallbackInfo{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	snap := tr.Snapshot()

	id2 := orderid.Gen(20, side.Ask, 1)
	if _, err := tr.Insert(id2, 7, CallbackInfo{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if tr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tr.Len())
	}

	tr.Restore(snap)
	if tr.Len() != 1 {
		t.Fatalf("Len() after restore = %d, want 1", tr.Len())
	}
	if _, ok := tr.Find(id2); ok {
		t.Fatalf("Find(id2) succeeded after restore, want rolled back")
	}
	if _, ok := tr.Find(id1); !ok {
		t.Fatalf("Find(id1) failed after restore, want present")
	}
}

func TestForEachAscending(t *testing.T) {
	tr := NewTree(8)
	prices := []uint64{40, 10, 30, 20}
	for i, p := range prices {
		id := orderid.Gen(p, side.Ask, uint64(i))
		if _, err := tr.Insert(id, 1, CallbackInfo{}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	var seen []uint64
	tr.ForEach(func(l Leaf) bool {
		seen = append(seen, orderid.PriceFromKey(l.Key))
		return true
	})
	want := []uint64{10, 20, 30, 40}
	if len(seen) != len(want) {
		t.Fatalf("ForEach saw %d leaves, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("ForEach order = %v, want %v", seen, want)
		}
	}
}

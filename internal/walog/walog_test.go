package walog

import (
	"path/filepath"
	"testing"

	"github.com/clobcore/matching-engine/internal/eventqueue"
	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/side"
)

const unit = uint64(1) << 32

func testPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "wal.log")
}

func TestAppendAndReplayRoundTrips(t *testing.T) {
	path := testPath(t)
	l, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	maker := orderid.Gen(100*unit, side.Bid, 1)
	events := []eventqueue.Event{
		{Tag: eventqueue.TagFill, SequenceNum: 0, Timestamp: 1, Fill: eventqueue.FillEvent{MakerOrderID: maker, Price: 100 * unit, BaseSize: 5}},
		{Tag: eventqueue.TagOut, SequenceNum: 1, Timestamp: 2, Out: eventqueue.OutEvent{OrderID: maker, Delete: true}},
	}
	for _, ev := range events {
		if err := l.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	if seq, ok := l2.LastSequence(); !ok || seq != 1 {
		t.Fatalf("LastSequence = %d, %v, want 1, true", seq, ok)
	}

	var replayed []eventqueue.Event
	if err := l2.Replay(func(ev eventqueue.Event) error {
		replayed = append(replayed, ev)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("replayed %d events, want 2", len(replayed))
	}
	if replayed[0].Tag != eventqueue.TagFill || replayed[1].Tag != eventqueue.TagOut {
		t.Fatalf("replayed tags = %v, %v, want Fill, Out", replayed[0].Tag, replayed[1].Tag)
	}
}

func TestLastSequenceFalseOnEmptyLog(t *testing.T) {
	l, err := Open(Config{Path: testPath(t)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, ok := l.LastSequence(); ok {
		t.Fatalf("expected no last sequence on an empty log")
	}
}

func TestReplayOnMissingFileIsNoOp(t *testing.T) {
	l, err := Open(Config{Path: testPath(t)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	count := 0
	if err := l.Replay(func(eventqueue.Event) error { count++; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no events replayed, got %d", count)
	}
}

func TestSyncModeFsyncsWithoutError(t *testing.T) {
	l, err := Open(Config{Path: testPath(t), SyncMode: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	ev := eventqueue.Event{Tag: eventqueue.TagFill, SequenceNum: 0}
	if err := l.Append(ev); err != nil {
		t.Fatalf("Append in sync mode: %v", err)
	}
}

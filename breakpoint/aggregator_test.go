package breakpoint

import (
	"testing"

	"github.com/GoCodeAlone/dataflow/tuple"
)

func TestAggregatorMergeAppendsReasons(t *testing.T) {
	agg := NewAggregator()
	ft := tuple.FaultedTuple{Tuple: tuple.Tuple{"value": 150}, TupleID: 7, IsInput: false}

	agg.Merge("worker-2", ft, ReasonConditionUnsatisfied)
	agg.Merge("worker-2", ft, ReasonCountReached)

	if agg.Len() != 1 {
		t.Fatalf("expected one deduplicated entry, got %d", agg.Len())
	}

	entries := agg.Drain()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Worker != "worker-2" {
		t.Errorf("unexpected worker %q", e.Worker)
	}
	if !e.Tuple.Equal(ft) {
		t.Errorf("unexpected tuple %+v", e.Tuple)
	}
	if len(e.Reasons) != 2 || e.Reasons[0] != ReasonConditionUnsatisfied || e.Reasons[1] != ReasonCountReached {
		t.Errorf("expected both reasons in insertion order, got %v", e.Reasons)
	}
}

func TestAggregatorDistinguishesKeys(t *testing.T) {
	agg := NewAggregator()
	ft := tuple.FaultedTuple{Tuple: tuple.Tuple{"value": 1}, TupleID: 1, IsInput: false}

	agg.Merge("worker-1", ft, "r1")
	agg.Merge("worker-2", ft, "r2") // different worker, same tuple

	other := tuple.FaultedTuple{Tuple: tuple.Tuple{"value": 1}, TupleID: 2, IsInput: false}
	agg.Merge("worker-1", other, "r3") // same worker, different tuple

	if agg.Len() != 3 {
		t.Errorf("expected three distinct entries, got %d", agg.Len())
	}
}

func TestAggregatorDrainClearsState(t *testing.T) {
	agg := NewAggregator()
	ft := tuple.FaultedTuple{Tuple: tuple.Tuple{"v": 1}, TupleID: 1, IsInput: true}
	agg.Merge("w", ft, "r")

	first := agg.Drain()
	if len(first) != 1 {
		t.Fatalf("expected one entry, got %d", len(first))
	}
	if agg.Len() != 0 {
		t.Error("expected aggregator empty after drain")
	}
	if second := agg.Drain(); len(second) != 0 {
		t.Errorf("expected second drain empty, got %d entries", len(second))
	}

	// A fresh cycle starts a fresh entry.
	agg.Merge("w", ft, "again")
	entries := agg.Drain()
	if len(entries) != 1 || len(entries[0].Reasons) != 1 {
		t.Errorf("expected fresh entry after drain, got %+v", entries)
	}
}

func TestAggregatorPreservesInsertionOrder(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < 5; i++ {
		ft := tuple.FaultedTuple{Tuple: tuple.Tuple{"i": i}, TupleID: int64(i), IsInput: false}
		agg.Merge(WorkerID(rune('a'+i)), ft, "r")
	}

	entries := agg.Drain()
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Tuple.TupleID != int64(i) {
			t.Errorf("entry %d out of order: tuple id %d", i, e.Tuple.TupleID)
		}
	}
}

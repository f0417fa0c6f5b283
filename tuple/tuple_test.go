package tuple

import "testing"

func TestTupleKeyStable(t *testing.T) {
	a := Tuple{"value": 150, "name": "order"}
	b := Tuple{"name": "order", "value": 150}

	if a.Key() != b.Key() {
		t.Errorf("expected identical keys for equal tuples: %q vs %q", a.Key(), b.Key())
	}

	c := Tuple{"name": "order", "value": 151}
	if a.Key() == c.Key() {
		t.Error("expected different keys for different payloads")
	}
}

func TestFaultedTupleEquality(t *testing.T) {
	ft := FaultedTuple{Tuple: Tuple{"value": 150}, TupleID: 7, IsInput: false}

	same := FaultedTuple{Tuple: Tuple{"value": 150}, TupleID: 7, IsInput: false}
	if !ft.Equal(same) {
		t.Error("expected equal faulted tuples")
	}

	otherID := FaultedTuple{Tuple: Tuple{"value": 150}, TupleID: 8, IsInput: false}
	if ft.Equal(otherID) {
		t.Error("tuples with different ids must not be equal")
	}

	otherSide := FaultedTuple{Tuple: Tuple{"value": 150}, TupleID: 7, IsInput: true}
	if ft.Equal(otherSide) {
		t.Error("tuples observed on different sides must not be equal")
	}

	otherPayload := FaultedTuple{Tuple: Tuple{"value": 151}, TupleID: 7, IsInput: false}
	if ft.Equal(otherPayload) {
		t.Error("tuples with different payloads must not be equal")
	}
}

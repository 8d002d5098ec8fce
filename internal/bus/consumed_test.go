package bus

import "testing"

func TestConsumedSet_AtMostOnce(t *testing.T) {
	s := NewConsumedSet()
	s.MarkConsumed("evt-1")

	if !s.CheckAndRemove("evt-1") {
		t.Fatal("expected first CheckAndRemove to return true")
	}
	if s.CheckAndRemove("evt-1") {
		t.Fatal("expected second CheckAndRemove to return false")
	}
}

func TestConsumedSet_UnknownID(t *testing.T) {
	s := NewConsumedSet()
	if s.CheckAndRemove("never-marked") {
		t.Fatal("expected false for an id that was never marked consumed")
	}
}

func TestElicitationGate(t *testing.T) {
	g := NewElicitationGate()
	if g.Active("sess-1") {
		t.Fatal("expected gate to start inactive")
	}

	g.SetActive("sess-1", true)
	if !g.Active("sess-1") {
		t.Fatal("expected gate to be active after SetActive(true)")
	}
	if g.Active("sess-2") {
		t.Fatal("expected unrelated session to remain inactive")
	}

	g.SetActive("sess-1", false)
	if g.Active("sess-1") {
		t.Fatal("expected gate to be inactive after SetActive(false)")
	}
}

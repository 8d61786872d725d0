package scope

import "testing"

func TestAddAssignsIncreasingSlots(t *testing.T) {
	s := New()
	if got := s.Add("a"); got != 0 {
		t.Fatalf("first Add = %d, want 0", got)
	}
	if got := s.Add("b"); got != 1 {
		t.Fatalf("second Add = %d, want 1", got)
	}
	if s.Get("a") != 0 || s.Get("b") != 1 {
		t.Fatal("Get must return the slot assigned by Add")
	}
}

func TestPopReturnsCountAndFreesNames(t *testing.T) {
	s := New()
	s.Add("outer")
	s.Push()
	s.Add("x")
	s.Add("y")
	if n := s.Pop(); n != 2 {
		t.Fatalf("Pop returned %d, want 2", n)
	}
	// names from the popped block are no longer resolvable
	defer func() {
		if recover() == nil {
			t.Fatal("Get on a freed name should panic")
		}
	}()
	s.Get("x")
}

func TestSlotsAreReusedAfterPop(t *testing.T) {
	// A slot is always lookup.size() at assignment time, so a block that
	// pops frees its slots for the next block to reuse — matching the
	// runtime heap, which TruncateHeap shrinks back by the block's size.
	s := New()
	s.Add("outer")
	s.Push()
	s.Add("loopVar") // slot 1
	s.Pop()
	s.Push()
	s.Add("loopVar2") // must reuse slot 1
	if got := s.Get("loopVar2"); got != 1 {
		t.Fatalf("slot after Pop/Push = %d, want 1 (reused)", got)
	}
}

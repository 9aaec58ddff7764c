package absint

import "testing"

func TestBlockStack_PushPop(t *testing.T) {
	var s BlockStack
	s.Push(Block{Kind: BlockLoop, Setup: 0, Start: 2, End: 20, Handler: NoHandler})
	s.Push(Block{Kind: BlockExcept, Setup: 4, Start: 6, End: 12, Handler: 14})

	if s.Len() != 2 {
		t.Fatalf("len: got %d, want 2", s.Len())
	}
	if b := s.Pop(); b.Kind != BlockExcept {
		t.Errorf("pop: got %s, want except", b.Kind)
	}
	if b := s.Top(); b.Kind != BlockLoop {
		t.Errorf("top: got %s, want loop", b.Kind)
	}
}

func TestBlockStack_UnderflowFaults(t *testing.T) {
	var s BlockStack
	expectFault(t, "pop on empty block stack", func() { s.Pop() })
}

func TestBlockStack_InnermostLoop(t *testing.T) {
	var s BlockStack
	s.Push(Block{Kind: BlockLoop, Setup: 0, Start: 2, End: 40, Handler: NoHandler})
	s.Push(Block{Kind: BlockExcept, Setup: 4, Start: 6, End: 30, Handler: 32})
	s.Push(Block{Kind: BlockLoop, Setup: 8, Start: 10, End: 24, Handler: NoHandler})

	loop, ok := s.InnermostLoop()
	if !ok || loop.Setup != 8 {
		t.Errorf("innermost loop: got %+v ok=%v, want setup 8", loop, ok)
	}

	var empty BlockStack
	if _, ok := empty.InnermostLoop(); ok {
		t.Error("empty stack should have no loop")
	}
}

func TestBlockStack_InnermostHandler(t *testing.T) {
	var s BlockStack
	s.Push(Block{Kind: BlockExcept, Setup: 0, Start: 2, End: 30, Handler: 20})
	s.Push(Block{Kind: BlockLoop, Setup: 4, Start: 6, End: 16, Handler: NoHandler})

	blk, ok := s.InnermostHandler(8)
	if !ok || blk.Handler != 20 {
		t.Errorf("handler from offset 8: got %+v ok=%v, want handler 20", blk, ok)
	}

	// Raising at or past the handler propagates outward, not back in.
	if _, ok := s.InnermostHandler(22); ok {
		t.Error("raise inside the handler span should not re-enter it")
	}
}

func TestBlock_Contains(t *testing.T) {
	b := Block{Kind: BlockLoop, Setup: 0, Start: 2, End: 10, Handler: NoHandler}
	if b.Contains(0) {
		t.Error("setup offset is outside the region")
	}
	if !b.Contains(2) || !b.Contains(8) {
		t.Error("region interior should be contained")
	}
	if b.Contains(10) {
		t.Error("End is exclusive")
	}
}

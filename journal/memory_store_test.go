package journal

import "testing"

func TestMemoryStore_InsertListOrderedByPosition(t *testing.T) {
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if _, err := s.Insert(NewEntryInput{Stack: StackUndo, Kind: KindTransaction, Description: "e"}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(StackUndo)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Position != int64(i+1) {
			t.Fatalf("expected monotonic positions, got %d at index %d", e.Position, i)
		}
	}
}

func TestMemoryStore_PopReturnsHighestPosition(t *testing.T) {
	s := NewMemoryStore()
	s.Insert(NewEntryInput{Stack: StackUndo, Description: "first"})
	s.Insert(NewEntryInput{Stack: StackUndo, Description: "second"})

	top, err := s.Pop(StackUndo)
	if err != nil {
		t.Fatal(err)
	}
	if top.Description != "second" {
		t.Fatalf("expected to pop the most recent entry, got %q", top.Description)
	}

	remaining, _ := s.List(StackUndo)
	if len(remaining) != 1 || remaining[0].Description != "first" {
		t.Fatalf("unexpected remaining entries: %+v", remaining)
	}
}

func TestMemoryStore_ClearStackRemovesOnlyThatStack(t *testing.T) {
	s := NewMemoryStore()
	s.Insert(NewEntryInput{Stack: StackUndo, Description: "u"})
	s.Insert(NewEntryInput{Stack: StackRedo, Description: "r"})

	if err := s.ClearStack(StackUndo); err != nil {
		t.Fatal(err)
	}

	undo, _ := s.List(StackUndo)
	redo, _ := s.List(StackRedo)
	if len(undo) != 0 {
		t.Fatalf("expected UNDO cleared, got %d", len(undo))
	}
	if len(redo) != 1 {
		t.Fatalf("expected REDO untouched, got %d", len(redo))
	}
}

func TestMemoryStore_TruncateDropsOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		s.Insert(NewEntryInput{Stack: StackUndo, Description: "e"})
	}

	if err := s.Truncate(StackUndo, 3); err != nil {
		t.Fatal(err)
	}

	entries, _ := s.List(StackUndo)
	if len(entries) != 3 {
		t.Fatalf("expected 3 remaining entries, got %d", len(entries))
	}
	if entries[0].Position != 3 {
		t.Fatalf("expected the two oldest entries dropped, got first position %d", entries[0].Position)
	}
}

func TestMemoryStore_MoveToStackReassignsPosition(t *testing.T) {
	s := NewMemoryStore()
	e, _ := s.Insert(NewEntryInput{Stack: StackUndo, Description: "e"})

	if err := s.MoveToStack(e.ID, StackRedo); err != nil {
		t.Fatal(err)
	}

	undo, _ := s.List(StackUndo)
	redo, _ := s.List(StackRedo)
	if len(undo) != 0 || len(redo) != 1 {
		t.Fatalf("expected entry moved to REDO, undo=%d redo=%d", len(undo), len(redo))
	}
}

func TestMemoryStore_CounterIncrementsMonotonically(t *testing.T) {
	s := NewMemoryStore()
	v1, _ := s.IncrementCounter("totalEdits")
	v2, _ := s.IncrementCounter("totalEdits")
	if v1 != 1 || v2 != 2 {
		t.Fatalf("expected 1 then 2, got %d then %d", v1, v2)
	}
}

func TestMemoryStore_Metadata(t *testing.T) {
	s := NewMemoryStore()
	if _, ok, _ := s.GetMetadata("missing"); ok {
		t.Fatalf("expected missing key to report not found")
	}
	s.SetMetadata("k", "v")
	v, ok, _ := s.GetMetadata("k")
	if !ok || v != "v" {
		t.Fatalf("expected k=v, got %q ok=%v", v, ok)
	}
}

package journal

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_InsertPersistsSnapshotsAndDiffStats(t *testing.T) {
	s := openTestStore(t)

	entry, err := s.Insert(NewEntryInput{
		Stack: StackUndo, Kind: KindTransaction, Description: "edit a.txt",
		Status: StatusOK,
		Snapshots: []Snapshot{
			{FilePath: "/r/a.txt", Content: []byte("before"), Size: 6},
		},
		DiffStats: []DiffStat{
			{FilePath: "/r/a.txt", LinesAdded: 1, LinesDeleted: 0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.ID == 0 {
		t.Fatalf("expected a non-zero assigned ID")
	}

	loaded, err := s.PeekTop(StackUndo)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatalf("expected to find the inserted entry at the top of UNDO")
	}
	if len(loaded.Snapshots) != 1 || string(loaded.Snapshots[0].Content) != "before" {
		t.Fatalf("expected the snapshot blob to round-trip, got %+v", loaded.Snapshots)
	}
	if len(loaded.DiffStats) != 1 || loaded.DiffStats[0].LinesAdded != 1 {
		t.Fatalf("expected diff stat to round-trip, got %+v", loaded.DiffStats)
	}
}

func TestSQLiteStore_PopRemovesFromUndoStack(t *testing.T) {
	s := openTestStore(t)
	s.Insert(NewEntryInput{Stack: StackUndo, Description: "first"})
	s.Insert(NewEntryInput{Stack: StackUndo, Description: "second"})

	top, err := s.Pop(StackUndo)
	if err != nil {
		t.Fatal(err)
	}
	if top.Description != "second" {
		t.Fatalf("expected to pop the most recent entry, got %q", top.Description)
	}

	remaining, err := s.List(StackUndo)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Description != "first" {
		t.Fatalf("unexpected remaining entries: %+v", remaining)
	}
}

func TestSQLiteStore_TruncateCascadesSnapshotDeletion(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		s.Insert(NewEntryInput{
			Stack: StackUndo, Description: "e",
			Snapshots: []Snapshot{{FilePath: "/r/a.txt", Content: []byte("x")}},
		})
	}

	if err := s.Truncate(StackUndo, 1); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List(StackUndo)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(entries))
	}

	var snapshotRows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM file_snapshots`).Scan(&snapshotRows); err != nil {
		t.Fatal(err)
	}
	if snapshotRows != 1 {
		t.Fatalf("expected truncated entries' snapshots to be cascade-deleted, got %d snapshot rows", snapshotRows)
	}
}

func TestSQLiteStore_MetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetMetadata("activeTodo", "plan.md"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetMetadata("activeTodo")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "plan.md" {
		t.Fatalf("expected activeTodo=plan.md, got %q ok=%v", v, ok)
	}
}

func TestSQLiteStore_CounterPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	s1, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s1.IncrementCounter("totalEdits")
	s1.IncrementCounter("totalEdits")
	s1.Close()

	s2, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	v, err := s2.IncrementCounter("totalEdits")
	if err != nil {
		t.Fatal(err)
	}
	if v != 3 {
		t.Fatalf("expected counter to persist across reopen, got %d", v)
	}
}

package txn

import (
	"os"
	"path/filepath"
	"testing"
)

// TestS4_RenameThenUndoResolvesByLineage mirrors the spec's S4 scenario:
// a file is renamed inside a transaction, then the renamed file is
// deleted from outside the transaction machinery; undo must still
// recover via the lineage tracker's current-path lookup (step 2 of the
// restore plan) rather than failing because the original path is gone.
func TestS4_RenameThenUndoResolvesByLineage(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	taskID := "task-rename"

	oldPath := filepath.Join(root, "a.txt")
	newPath := filepath.Join(root, "b.txt")
	if err := os.WriteFile(oldPath, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	m.StartTransaction(taskID, "rename a to b", "")
	if err := m.RenameFile(taskID, oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Commit(taskID); err != nil {
		t.Fatal(err)
	}

	// Simulate an external actor deleting the renamed file before undo runs.
	if err := os.Remove(newPath); err != nil {
		t.Fatal(err)
	}

	result, err := m.Undo()
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome == OutcomeOrphaned || result.Outcome == OutcomeStuck {
		t.Fatalf("expected lineage-based recovery, got outcome %s", result.Outcome)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected content restored at the lineage-resolved path %s: %v", newPath, err)
	}
}

func TestSmartUndo_StuckWhenNothingMatches(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	taskID := "task-orphan"

	p := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(p, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	m.StartTransaction(taskID, "edit gone.txt", "")
	if err := m.Backup(taskID, p); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(p, []byte("v2"), 0o644)
	if _, err := m.Commit(taskID); err != nil {
		t.Fatal(err)
	}

	// Remove the file so no restore step can possibly succeed: the
	// original path is gone,
	// lineage has no alternate current path, and no other file on disk
	// carries the pre-edit content hash.
	os.Remove(p)

	result, err := m.Undo()
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeStuck {
		t.Fatalf("expected STUCK when no restore step resolves the file, got %s", result.Outcome)
	}
}

package txn

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"filecore/journal"
	"filecore/lineage"
	"filecore/sandbox"
	"filecore/tokens"
)

func newTestManager(t *testing.T, root string) *Manager {
	t.Helper()
	sb := sandbox.New(nil, 10<<20, time.Second)
	if err := sb.SetRoot(root); err != nil {
		t.Fatal(err)
	}
	tm := tokens.NewManager()
	lt := lineage.New()
	store := journal.NewMemoryStore()
	return NewManager(sb, tm, lt, store, 50)
}

// TestS3_TransactionalUndoOfCreateAndEdit mirrors the spec's S3 scenario:
// create a file inside a transaction, commit, undo deletes it and prunes
// empty parents, redo recreates it.
func TestS3_TransactionalUndoOfCreateAndEdit(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)

	newFile := filepath.Join(root, "new.txt")
	taskID := "task-1"

	m.StartTransaction(taskID, "create new.txt", "")
	if err := m.Backup(taskID, newFile); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newFile, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.MarkCreated(taskID, newFile)

	entry, err := m.Commit(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatalf("expected a non-nil journal entry for a non-empty transaction")
	}

	result, err := m.Undo()
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected SUCCESS, got %s", result.Outcome)
	}
	if _, err := os.Stat(newFile); !os.IsNotExist(err) {
		t.Fatalf("expected new.txt to be deleted by undo")
	}

	redoResult, err := m.Redo()
	if err != nil {
		t.Fatal(err)
	}
	if redoResult.Outcome != OutcomeSuccess {
		t.Fatalf("expected SUCCESS on redo, got %s", redoResult.Outcome)
	}
	content, err := os.ReadFile(newFile)
	if err != nil {
		t.Fatalf("expected new.txt to be recreated: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("expected recreated content %q, got %q", "hello", content)
	}
}

func TestCommit_NestedTransactionOnlyOutermostWritesJournal(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	taskID := "task-nested"
	p := filepath.Join(root, "a.txt")
	os.WriteFile(p, []byte("v1"), 0o644)

	m.StartTransaction(taskID, "outer", "")
	m.StartTransaction(taskID, "inner", "")
	if err := m.Backup(taskID, p); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(p, []byte("v2"), 0o644)

	innerEntry, err := m.Commit(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if innerEntry != nil {
		t.Fatalf("expected inner commit to be a no-op, got entry %+v", innerEntry)
	}

	outerEntry, err := m.Commit(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if outerEntry == nil {
		t.Fatalf("expected outer commit to write the journal entry")
	}
}

func TestRollback_RestoresPreContentAndDeletesCreatedFiles(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	taskID := "task-rb"

	existing := filepath.Join(root, "existing.txt")
	os.WriteFile(existing, []byte("original"), 0o644)
	created := filepath.Join(root, "created.txt")

	m.StartTransaction(taskID, "edit", "")
	if err := m.Backup(taskID, existing); err != nil {
		t.Fatal(err)
	}
	if err := m.Backup(taskID, created); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(existing, []byte("modified"), 0o644)
	os.WriteFile(created, []byte("new"), 0o644)

	if err := m.Rollback(taskID); err != nil {
		t.Fatal(err)
	}

	content, _ := os.ReadFile(existing)
	if string(content) != "original" {
		t.Fatalf("expected rollback to restore original content, got %q", content)
	}
	if _, err := os.Stat(created); !os.IsNotExist(err) {
		t.Fatalf("expected created.txt to be removed by rollback")
	}
}

// TestS5_ExternalChangeJournal mirrors the spec's S5 scenario.
func TestS5_ExternalChangeJournal(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	p := filepath.Join(root, "a.txt")
	os.WriteFile(p, []byte("changed-outside"), 0o644)

	if err := m.RecordExternalChange(p, []byte("original"), 1, 2, "external edit"); err != nil {
		t.Fatal(err)
	}

	result, err := m.Undo()
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected SUCCESS undoing the external change, got %s", result.Outcome)
	}
	content, _ := os.ReadFile(p)
	if string(content) != "original" {
		t.Fatalf("expected previous content restored, got %q", content)
	}

	redoResult, err := m.Redo()
	if err != nil {
		t.Fatal(err)
	}
	if redoResult.Outcome != OutcomeSuccess {
		t.Fatalf("expected SUCCESS redoing the external change, got %s", redoResult.Outcome)
	}
	content, _ = os.ReadFile(p)
	if string(content) != "changed-outside" {
		t.Fatalf("expected external edit restored by redo, got %q", content)
	}
}

// TestS6_CheckpointRollback mirrors the spec's S6 scenario.
func TestS6_CheckpointRollback(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)

	commitSimpleEdit := func(taskID, path, content, desc string) {
		m.StartTransaction(taskID, desc, "")
		m.Backup(taskID, path)
		os.WriteFile(path, []byte(content), 0o644)
		if _, err := m.Commit(taskID); err != nil {
			t.Fatal(err)
		}
	}

	p1 := filepath.Join(root, "p1.txt")
	p2 := filepath.Join(root, "p2.txt")
	os.WriteFile(p1, []byte("v0"), 0o644)
	os.WriteFile(p2, []byte("v0"), 0o644)

	commitSimpleEdit("t1", p1, "t1", "T1")
	commitSimpleEdit("t2", p2, "t2", "T2")
	if err := m.CreateCheckpoint("C"); err != nil {
		t.Fatal(err)
	}
	commitSimpleEdit("t3", p1, "t3", "T3")
	commitSimpleEdit("t4", p2, "t4", "T4")

	report, err := m.RollbackToCheckpoint("C")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.UndoneDescriptions) != 2 || report.UndoneDescriptions[0] != "T4" || report.UndoneDescriptions[1] != "T3" {
		t.Fatalf("expected T4 then T3 undone, got %v", report.UndoneDescriptions)
	}

	entries, err := m.store.List(journal.StackUndo)
	if err != nil {
		t.Fatal(err)
	}
	remainingDescriptions := map[string]bool{}
	for _, e := range entries {
		remainingDescriptions[e.Description] = true
	}
	if !remainingDescriptions["T1"] || !remainingDescriptions["T2"] {
		t.Fatalf("expected T1 and T2 to remain, got entries %+v", entries)
	}
}

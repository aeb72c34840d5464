package lineage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegisterFile_IdempotentAndAssignsID(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := New()
	id1 := tr.RegisterFile(p)
	id2 := tr.RegisterFile(p)
	if id1 != id2 {
		t.Fatalf("expected idempotent registration, got %s then %s", id1, id2)
	}
	if tr.GetCurrentPath(id1) != p {
		t.Fatalf("expected current path %s, got %s", p, tr.GetCurrentPath(id1))
	}
}

func TestRecordMove_PreservesIDAndAppendsHistory(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "a.txt")
	newPath := filepath.Join(dir, "b.txt")
	os.WriteFile(oldPath, []byte("AAA"), 0o644)

	tr := New()
	id := tr.RegisterFile(oldPath)

	gotID := tr.RecordMove(oldPath, newPath)
	if gotID != id {
		t.Fatalf("move should preserve file ID: got %s want %s", gotID, id)
	}
	if tr.GetCurrentPath(id) != newPath {
		t.Fatalf("expected current path to update to %s, got %s", newPath, tr.GetCurrentPath(id))
	}
	if tr.GetFileID(oldPath) != "" {
		t.Fatalf("expected old path to be unregistered from byPath")
	}

	history := tr.GetMoveHistory(id)
	if len(history) != 1 || history[0].OldPath != oldPath || history[0].NewPath != newPath {
		t.Fatalf("unexpected move history: %+v", history)
	}
}

func TestRecordMove_AutoRegistersUnknownOldPath(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "fresh.txt")
	os.WriteFile(newPath, []byte("x"), 0o644)

	tr := New()
	id := tr.RecordMove(filepath.Join(dir, "never-seen.txt"), newPath)
	if id == "" {
		t.Fatalf("expected auto-registration to assign an ID")
	}
	if tr.GetCurrentPath(id) != newPath {
		t.Fatalf("expected new path to be tracked")
	}
}

func TestUpdateContentHash_ReindexesHashBucket(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	os.WriteFile(p, []byte("v1"), 0o644)

	tr := New()
	id := tr.RegisterFile(p)
	oldHash := HashFile(p)
	if paths := tr.FindByContentHash(oldHash); len(paths) != 1 || paths[0] != p {
		t.Fatalf("expected hash index to find %s, got %v", p, paths)
	}

	os.WriteFile(p, []byte("v2-longer-content"), 0o644)
	tr.UpdateContentHash(p)

	newHash := HashFile(p)
	if paths := tr.FindByContentHash(oldHash); len(paths) != 0 {
		t.Fatalf("expected old hash bucket to be empty, got %v", paths)
	}
	if paths := tr.FindByContentHash(newHash); len(paths) != 1 || paths[0] != p {
		t.Fatalf("expected new hash bucket to contain %s, got %v", p, paths)
	}
	_ = id
}

func TestUnregister_RemovesAllIndexEntries(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	os.WriteFile(p, []byte("x"), 0o644)

	tr := New()
	tr.RegisterFile(p)
	tr.Unregister(p)

	if tr.GetFileID(p) != "" {
		t.Fatalf("expected path to be unregistered")
	}
}

func TestDeepSearchByContentHash_FindsRelocatedFile(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	os.MkdirAll(sub, 0o755)
	target := filepath.Join(sub, "moved.txt")
	os.WriteFile(target, []byte("needle"), 0o644)

	hash := HashFile(target)
	found := DeepSearchByContentHash(nil, hash, dir, 1000)
	if found != target {
		t.Fatalf("expected to find %s, got %s", target, found)
	}
}

func TestDeepSearchByContentHash_NoMatchReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644)

	found := DeepSearchByContentHash(nil, "deadbeef", dir, 1000)
	if found != "" {
		t.Fatalf("expected no match, got %s", found)
	}
}

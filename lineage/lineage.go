// Package lineage implements the per-session File Lineage Tracker (spec
// component 4.B): stable file identity across renames and moves, plus
// content-hash based recovery of files that have gone missing from their
// last known path.
package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"filecore/internal/logging"
	"filecore/sandbox"
)

const component = "lineage"

// Move is one entry in a file's move history.
type Move struct {
	OldPath   string
	NewPath   string
	Timestamp time.Time
}

// Record is the durable identity record for one tracked file.
type Record struct {
	FileID               string
	CurrentPath          string
	LastKnownContentHash string
	MoveHistory          []Move
}

// Tracker holds the three maps described in the spec, guarded by one
// lock: byID, byPath, and byHash (path -> fileID and hash -> set(fileID)
// derivations are kept consistent by every mutating method).
type Tracker struct {
	mu     sync.Mutex
	byID   map[string]*Record
	byPath map[string]string
	byHash map[string]map[string]struct{}
}

func New() *Tracker {
	return &Tracker{
		byID:   make(map[string]*Record),
		byPath: make(map[string]string),
		byHash: make(map[string]map[string]struct{}),
	}
}

// HashFile computes the content hash used for lineage matching. SHA-256
// is used here (unlike the CRC-32 range hash in the tokens package)
// because lineage hashes are compared across a much larger, longer-lived
// population of files where collision probability matters more than
// compute cost.
func HashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// HashFileFromBytes is HashFile for content already held in memory
// (journal snapshot bytes), used by smart-undo's content-hash search
// step so it doesn't need a real file to hash against.
func HashFileFromBytes(content []byte) string {
	if content == nil {
		return ""
	}
	return hashBytes(content)
}

// RegisterFile returns the existing ID for path if already tracked,
// otherwise assigns a fresh ID and indexes the file by its current
// content hash (0/empty if unreadable). Idempotent.
func (t *Tracker) RegisterFile(path string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byPath[path]; ok {
		return id
	}

	id := uuid.NewString()
	hash := HashFile(path)
	rec := &Record{FileID: id, CurrentPath: path, LastKnownContentHash: hash}
	t.byID[id] = rec
	t.byPath[path] = id
	t.indexHash(hash, id)

	logging.InfoCF(component, "file registered", map[string]interface{}{"path": path, "fileId": id})
	return id
}

func (t *Tracker) indexHash(hash, id string) {
	if hash == "" {
		return
	}
	set, ok := t.byHash[hash]
	if !ok {
		set = make(map[string]struct{})
		t.byHash[hash] = set
	}
	set[id] = struct{}{}
}

func (t *Tracker) unindexHash(hash, id string) {
	if hash == "" {
		return
	}
	if set, ok := t.byHash[hash]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(t.byHash, hash)
		}
	}
}

// RecordMove re-keys byPath from oldPath to newPath, appending a move
// history entry. If oldPath is not yet tracked, newPath is registered
// fresh instead (auto-register semantics from the spec).
func (t *Tracker) RecordMove(oldPath, newPath string) string {
	t.mu.Lock()
	id, ok := t.byPath[oldPath]
	t.mu.Unlock()

	if !ok {
		return t.RegisterFile(newPath)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.byID[id]
	rec.MoveHistory = append(rec.MoveHistory, Move{OldPath: oldPath, NewPath: newPath, Timestamp: time.Now()})
	rec.CurrentPath = newPath
	delete(t.byPath, oldPath)
	t.byPath[newPath] = id

	logging.InfoCF(component, "move recorded", map[string]interface{}{"fileId": id, "old": oldPath, "new": newPath})
	return id
}

// UpdateContentHash recomputes path's hash and re-indexes byHash,
// removing the file's ID from its old bucket and inserting it into the
// new one.
func (t *Tracker) UpdateContentHash(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byPath[path]
	if !ok {
		return
	}
	rec := t.byID[id]
	newHash := HashFile(path)
	t.unindexHash(rec.LastKnownContentHash, id)
	rec.LastKnownContentHash = newHash
	t.indexHash(newHash, id)
}

// UpdateContentHashBytes is UpdateContentHash for content already held in
// memory (virtual writes inside an active transaction), avoiding a
// redundant disk read.
func (t *Tracker) UpdateContentHashBytes(path string, content []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byPath[path]
	if !ok {
		return
	}
	rec := t.byID[id]
	newHash := hashBytes(content)
	t.unindexHash(rec.LastKnownContentHash, id)
	rec.LastKnownContentHash = newHash
	t.indexHash(newHash, id)
}

// Unregister removes all index entries for path.
func (t *Tracker) Unregister(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byPath[path]
	if !ok {
		return
	}
	rec := t.byID[id]
	t.unindexHash(rec.LastKnownContentHash, id)
	delete(t.byPath, path)
	delete(t.byID, id)
}

// GetCurrentPath returns the current path for fileID, or "" if unknown.
func (t *Tracker) GetCurrentPath(fileID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.byID[fileID]; ok {
		return rec.CurrentPath
	}
	return ""
}

// GetFileID returns the fileID registered for path, or "" if unknown.
func (t *Tracker) GetFileID(path string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPath[path]
}

// GetMoveHistory returns the ordered move history for fileID.
func (t *Tracker) GetMoveHistory(fileID string) []Move {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.byID[fileID]; ok {
		out := make([]Move, len(rec.MoveHistory))
		copy(out, rec.MoveHistory)
		return out
	}
	return nil
}

// FindByContentHash returns the current paths of every fileID whose last
// known hash equals hash.
func (t *Tracker) FindByContentHash(hash string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.byHash[hash]
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(set))
	for id := range set {
		paths = append(paths, t.byID[id].CurrentPath)
	}
	return paths
}

// DeepSearchByContentHash walks root (skipping sandbox-protected paths),
// hashing regular files until a match for expectedHash is found or
// maxFiles have been scanned. Returns "" if no match is found.
func DeepSearchByContentHash(sb *sandbox.Sandbox, expectedHash, root string, maxFiles int) string {
	if expectedHash == "" {
		return ""
	}
	scanned := 0
	var found string

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if found != "" {
			return filepath.SkipDir
		}
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if sb != nil && sb.IsProtected(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if scanned >= maxFiles {
			return filepath.SkipAll
		}
		scanned++
		if HashFile(path) == expectedHash {
			found = path
			return filepath.SkipAll
		}
		return nil
	})

	if found != "" {
		logging.InfoCF(component, "deep search matched", map[string]interface{}{"path": found, "scanned": scanned})
	}
	return found
}

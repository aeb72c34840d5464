// Package journal implements the per-session durable undo/redo stacks
// (spec component 4.D). Store is backed by an embedded SQLite database
// for persisted sessions and by an in-memory implementation for the
// "default" session, which the spec requires never touch disk.
package journal

import "time"

// Stack identifies which of the two per-session stacks an entry belongs
// to.
type Stack string

const (
	StackUndo Stack = "UNDO"
	StackRedo Stack = "REDO"
)

// EntryKind distinguishes the three shapes of journal entry.
type EntryKind string

const (
	KindTransaction EntryKind = "TRANSACTION"
	KindCheckpoint  EntryKind = "CHECKPOINT"
	KindExternal    EntryKind = "EXTERNAL"
)

// Status is the entry's outcome state; STUCK entries are left in place
// by a failed smart-undo rather than being removed.
type Status string

const (
	StatusOK    Status = "OK"
	StatusStuck Status = "STUCK"
)

// Snapshot is the pre-mutation content of one file, captured at backup
// time. Content == nil means the file did not exist before.
type Snapshot struct {
	FilePath string
	Content  []byte
	Size     int64
	CRC32    uint32
}

// DiffStat is computed at commit time from pre-snapshot vs. post-commit
// content.
type DiffStat struct {
	FilePath           string
	LinesAdded         int
	LinesDeleted       int
	AffectedBlockNames []string
	UnifiedDiff        string
}

// Entry is a durable journal row plus its child rows.
type Entry struct {
	ID              int64
	Stack           Stack
	Kind            EntryKind
	Position        int64
	CreatedAt       time.Time
	Description     string
	Instruction     string
	Status          Status
	AffectedPath    string
	PreviousHash    uint32
	CurrentHash     uint32
	CheckpointName  string
	Snapshots       []Snapshot
	DiffStats       []DiffStat
}

// IsEmpty reports whether the entry backs up no files at all, per the
// spec's "a transaction is empty iff no path has been backed up".
func (e *Entry) IsEmpty() bool { return len(e.Snapshots) == 0 }

// NewEntryInput is what Transaction Manager assembles to hand to
// Store.Insert; Store assigns ID/Position/CreatedAt.
type NewEntryInput struct {
	Stack          Stack
	Kind           EntryKind
	Description    string
	Instruction    string
	Status         Status
	AffectedPath   string
	PreviousHash   uint32
	CurrentHash    uint32
	CheckpointName string
	Snapshots      []Snapshot
	DiffStats      []DiffStat
}

// Store is the Journal Store contract the Transaction Manager and
// Smart-Undo Engine rely on. Implementations must make Insert (entry +
// snapshots + diffs) atomic.
type Store interface {
	// Insert writes a new entry plus its child rows in one commit and
	// returns the assigned entry with ID/Position/CreatedAt populated.
	Insert(input NewEntryInput) (*Entry, error)

	// List returns every entry on stack ordered by ascending position.
	List(stack Stack) ([]*Entry, error)

	// PeekTop returns the highest-position entry on stack, or nil if empty.
	PeekTop(stack Stack) (*Entry, error)

	// Pop removes and returns the highest-position entry on stack.
	Pop(stack Stack) (*Entry, error)

	// MoveToStack relocates an entry (and its children, untouched) from
	// its current stack to dest, assigning it a fresh position there.
	MoveToStack(entryID int64, dest Stack) error

	// ClearStack deletes every entry (cascading to children) on stack.
	ClearStack(stack Stack) error

	// Truncate deletes the oldest entries on stack until at most maxLen
	// remain.
	Truncate(stack Stack, maxLen int) error

	// UpdateStatus sets an entry's status in place (used to mark a
	// TRANSACTION entry STUCK after a failed smart-undo).
	UpdateStatus(entryID int64, status Status) error

	// Delete removes one entry and cascades to its children.
	Delete(entryID int64) error

	// IncrementCounter atomically bumps a named counter (totalEdits,
	// totalUndos) and returns its new value.
	IncrementCounter(name string) (int64, error)

	// GetMetadata / SetMetadata back task_metadata.
	GetMetadata(key string) (string, bool, error)
	SetMetadata(key, value string) error

	// Close releases underlying resources (db handle, file lock).
	Close() error
}

package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"filecore/errs"
	"filecore/internal/logging"
)

const sqliteComponent = "journal.sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stack TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	position INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	instruction TEXT,
	affected_path TEXT,
	previous_crc INTEGER,
	current_crc INTEGER,
	checkpoint_name TEXT
);
CREATE INDEX IF NOT EXISTS idx_entries_stack_position ON journal_entries(stack, position);

CREATE TABLE IF NOT EXISTS file_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id INTEGER NOT NULL REFERENCES journal_entries(id) ON DELETE CASCADE,
	file_path TEXT NOT NULL,
	content BLOB,
	file_size INTEGER NOT NULL,
	crc32c INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_entry ON file_snapshots(entry_id);

CREATE TABLE IF NOT EXISTS diff_stats (
	entry_id INTEGER NOT NULL REFERENCES journal_entries(id) ON DELETE CASCADE,
	file_path TEXT NOT NULL,
	lines_added INTEGER NOT NULL,
	lines_deleted INTEGER NOT NULL,
	affected_blocks TEXT,
	unified_diff TEXT
);
CREATE INDEX IF NOT EXISTS idx_diffstats_entry ON diff_stats(entry_id);

CREATE TABLE IF NOT EXISTS task_counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore is the durable Store implementation backing any session
// other than "default". One file, one connection pool, WAL mode for
// concurrent readers during a writer's commit.
type SQLiteStore struct {
	mu  sync.Mutex
	db  *sql.DB
	pos map[Stack]int64
}

// OpenSQLiteStore opens (creating if absent) the journal database at
// path and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "opening journal database").With("path", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.IOError, err, "applying journal schema")
	}

	s := &SQLiteStore{db: db, pos: map[Stack]int64{}}
	if err := s.loadPositions(); err != nil {
		db.Close()
		return nil, err
	}
	logging.InfoCF(sqliteComponent, "journal store opened", map[string]interface{}{"path": path})
	return s, nil
}

func (s *SQLiteStore) loadPositions() error {
	for _, st := range []Stack{StackUndo, StackRedo} {
		var max sql.NullInt64
		row := s.db.QueryRow(`SELECT MAX(position) FROM journal_entries WHERE stack = ?`, string(st))
		if err := row.Scan(&max); err != nil {
			return errs.Wrap(errs.IOError, err, "loading stack position")
		}
		s.pos[st] = max.Int64
	}
	return nil
}

func (s *SQLiteStore) Insert(input NewEntryInput) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "beginning journal transaction")
	}
	defer tx.Rollback()

	s.pos[input.Stack]++
	position := s.pos[input.Stack]
	now := time.Now().UTC()

	status := input.Status
	if status == "" {
		status = StatusOK
	}

	res, err := tx.Exec(
		`INSERT INTO journal_entries
			(stack, entry_type, position, created_at, description, status, instruction, affected_path, previous_crc, current_crc, checkpoint_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(input.Stack), string(input.Kind), position, now.Format(time.RFC3339Nano),
		input.Description, string(status), input.Instruction, input.AffectedPath,
		input.PreviousHash, input.CurrentHash, input.CheckpointName,
	)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "inserting journal entry")
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "reading inserted entry id")
	}

	for _, snap := range input.Snapshots {
		crc := snap.CRC32
		if crc == 0 && snap.Content != nil {
			crc = crc32.ChecksumIEEE(snap.Content)
		}
		if _, err := tx.Exec(
			`INSERT INTO file_snapshots (entry_id, file_path, content, file_size, crc32c) VALUES (?, ?, ?, ?, ?)`,
			entryID, snap.FilePath, snap.Content, snap.Size, crc,
		); err != nil {
			return nil, errs.Wrap(errs.IOError, err, "inserting snapshot")
		}
	}

	for _, d := range input.DiffStats {
		blocks, _ := json.Marshal(d.AffectedBlockNames)
		if _, err := tx.Exec(
			`INSERT INTO diff_stats (entry_id, file_path, lines_added, lines_deleted, affected_blocks, unified_diff) VALUES (?, ?, ?, ?, ?, ?)`,
			entryID, d.FilePath, d.LinesAdded, d.LinesDeleted, string(blocks), d.UnifiedDiff,
		); err != nil {
			return nil, errs.Wrap(errs.IOError, err, "inserting diff stat")
		}
	}

	if err := tx.Commit(); err != nil {
		s.pos[input.Stack]--
		return nil, errs.Wrap(errs.IOError, err, "committing journal insert")
	}

	entry := &Entry{
		ID: entryID, Stack: input.Stack, Kind: input.Kind, Position: position,
		CreatedAt: now, Description: input.Description, Instruction: input.Instruction,
		Status: status, AffectedPath: input.AffectedPath, PreviousHash: input.PreviousHash,
		CurrentHash: input.CurrentHash, CheckpointName: input.CheckpointName,
		Snapshots: input.Snapshots, DiffStats: input.DiffStats,
	}
	return entry, nil
}

func (s *SQLiteStore) scanEntry(row interface {
	Scan(dest ...any) error
}) (*Entry, error) {
	var e Entry
	var createdAt string
	var description, instruction, affectedPath, checkpointName sql.NullString
	var prevHash, curHash sql.NullInt64
	var stack, kind, status string

	if err := row.Scan(&e.ID, &stack, &kind, &e.Position, &createdAt, &description, &status,
		&instruction, &affectedPath, &prevHash, &curHash, &checkpointName); err != nil {
		return nil, err
	}
	e.Stack = Stack(stack)
	e.Kind = EntryKind(kind)
	e.Status = Status(status)
	e.Description = description.String
	e.Instruction = instruction.String
	e.AffectedPath = affectedPath.String
	e.CheckpointName = checkpointName.String
	e.PreviousHash = uint32(prevHash.Int64)
	e.CurrentHash = uint32(curHash.Int64)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}

func (s *SQLiteStore) loadChildren(e *Entry) error {
	rows, err := s.db.Query(`SELECT file_path, content, file_size, crc32c FROM file_snapshots WHERE entry_id = ?`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var snap Snapshot
		var crc int64
		if err := rows.Scan(&snap.FilePath, &snap.Content, &snap.Size, &crc); err != nil {
			return err
		}
		snap.CRC32 = uint32(crc)
		e.Snapshots = append(e.Snapshots, snap)
	}

	drows, err := s.db.Query(`SELECT file_path, lines_added, lines_deleted, affected_blocks, unified_diff FROM diff_stats WHERE entry_id = ?`, e.ID)
	if err != nil {
		return err
	}
	defer drows.Close()
	for drows.Next() {
		var d DiffStat
		var blocks string
		if err := drows.Scan(&d.FilePath, &d.LinesAdded, &d.LinesDeleted, &blocks, &d.UnifiedDiff); err != nil {
			return err
		}
		_ = json.Unmarshal([]byte(blocks), &d.AffectedBlockNames)
		e.DiffStats = append(e.DiffStats, d)
	}
	return nil
}

const entryColumns = `id, stack, entry_type, position, created_at, description, status, instruction, affected_path, previous_crc, current_crc, checkpoint_name`

func (s *SQLiteStore) List(stack Stack) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT `+entryColumns+` FROM journal_entries WHERE stack = ? ORDER BY position ASC`, string(stack))
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "listing journal entries")
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := s.scanEntry(rows)
		if err != nil {
			return nil, errs.Wrap(errs.IOError, err, "scanning journal entry")
		}
		if err := s.loadChildren(e); err != nil {
			return nil, errs.Wrap(errs.IOError, err, "loading journal entry children")
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLiteStore) PeekTop(stack Stack) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peekTopLocked(stack)
}

func (s *SQLiteStore) peekTopLocked(stack Stack) (*Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM journal_entries WHERE stack = ? ORDER BY position DESC LIMIT 1`, string(stack))
	e, err := s.scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "peeking journal stack")
	}
	if err := s.loadChildren(e); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "loading journal entry children")
	}
	return e, nil
}

func (s *SQLiteStore) Pop(stack Stack) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.peekTopLocked(stack)
	if err != nil || e == nil {
		return e, err
	}
	if _, err := s.db.Exec(`DELETE FROM journal_entries WHERE id = ?`, e.ID); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "popping journal entry")
	}
	return e, nil
}

func (s *SQLiteStore) MoveToStack(entryID int64, dest Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pos[dest]++
	if _, err := s.db.Exec(`UPDATE journal_entries SET stack = ?, position = ? WHERE id = ?`,
		string(dest), s.pos[dest], entryID); err != nil {
		return errs.Wrap(errs.IOError, err, "moving journal entry")
	}
	return nil
}

func (s *SQLiteStore) ClearStack(stack Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM journal_entries WHERE stack = ?`, string(stack)); err != nil {
		return errs.Wrap(errs.IOError, err, "clearing journal stack")
	}
	s.pos[stack] = 0
	return nil
}

func (s *SQLiteStore) Truncate(stack Stack, maxLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM journal_entries WHERE stack = ?`, string(stack)).Scan(&count); err != nil {
		return errs.Wrap(errs.IOError, err, "counting journal stack")
	}
	excess := count - maxLen
	if excess <= 0 {
		return nil
	}
	if _, err := s.db.Exec(
		`DELETE FROM journal_entries WHERE id IN (
			SELECT id FROM journal_entries WHERE stack = ? ORDER BY position ASC LIMIT ?
		)`, string(stack), excess); err != nil {
		return errs.Wrap(errs.IOError, err, "truncating journal stack")
	}
	logging.InfoCF(sqliteComponent, "stack truncated", map[string]interface{}{"stack": stack, "dropped": excess})
	return nil
}

func (s *SQLiteStore) UpdateStatus(entryID int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`UPDATE journal_entries SET status = ? WHERE id = ?`, string(status), entryID); err != nil {
		return errs.Wrap(errs.IOError, err, "updating entry status")
	}
	return nil
}

func (s *SQLiteStore) Delete(entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM journal_entries WHERE id = ?`, entryID); err != nil {
		return errs.Wrap(errs.IOError, err, "deleting journal entry")
	}
	return nil
}

func (s *SQLiteStore) IncrementCounter(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errs.Wrap(errs.IOError, err, "beginning counter transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO task_counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`, name); err != nil {
		return 0, errs.Wrap(errs.IOError, err, "incrementing counter")
	}
	var value int64
	if err := tx.QueryRow(`SELECT value FROM task_counters WHERE name = ?`, name).Scan(&value); err != nil {
		return 0, errs.Wrap(errs.IOError, err, "reading counter")
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.Wrap(errs.IOError, err, "committing counter increment")
	}
	return value, nil
}

func (s *SQLiteStore) GetMetadata(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	err := s.db.QueryRow(`SELECT value FROM task_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(errs.IOError, err, "reading metadata")
	}
	return value, true, nil
}

func (s *SQLiteStore) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT INTO task_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return errs.Wrap(errs.IOError, err, "writing metadata")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing journal database: %w", err)
	}
	return nil
}

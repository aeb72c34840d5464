package txn

import (
	"os"
	"path/filepath"

	"filecore/errs"
	"filecore/journal"
)

// Undo implements 4.E.6: pops the last UNDO entry and inverts it.
func (m *Manager) Undo() (*UndoResult, error) {
	top, err := m.store.PeekTop(journal.StackUndo)
	if err != nil {
		return nil, err
	}
	if top == nil {
		return &UndoResult{Outcome: OutcomeNothingToUndo}, nil
	}

	switch top.Kind {
	case journal.KindCheckpoint:
		if _, err := m.store.Pop(journal.StackUndo); err != nil {
			return nil, err
		}
		return &UndoResult{Outcome: OutcomeSuccess}, nil

	case journal.KindExternal:
		if _, err := m.store.Pop(journal.StackUndo); err != nil {
			return nil, err
		}
		if err := m.undoExternalPopped(top); err != nil {
			return nil, err
		}
		m.incrementUndos()
		return &UndoResult{Outcome: OutcomeSuccess, Files: []FileRestoreStatus{{Path: top.AffectedPath, Status: RestoreRestored}}}, nil

	case journal.KindTransaction:
		result := m.SmartUndo(top)
		if result.Outcome == OutcomeStuck {
			if err := m.store.UpdateStatus(top.ID, journal.StatusStuck); err != nil {
				return nil, err
			}
			return result, nil
		}
		if _, err := m.store.Pop(journal.StackUndo); err != nil {
			return nil, err
		}
		if err := m.synthesizeRedo(top, result); err != nil {
			return nil, err
		}
		m.incrementUndos()
		return result, nil

	default:
		return nil, errs.New(errs.Internal, "unknown journal entry kind").With("kind", top.Kind)
	}
}

// undoExternal is used by RollbackToCheckpoint, which walks entries
// without popping them first.
func (m *Manager) undoExternal(e *journal.Entry) error {
	if err := m.undoExternalPopped(e); err != nil {
		return err
	}
	return m.store.Delete(e.ID)
}

func (m *Manager) undoExternalPopped(e *journal.Entry) error {
	var previous []byte
	if len(e.Snapshots) > 0 {
		previous = e.Snapshots[0].Content
	}

	current, _ := os.ReadFile(e.AffectedPath)
	if _, err := m.store.Insert(journal.NewEntryInput{
		Stack: journal.StackRedo, Kind: journal.KindExternal,
		Description: e.Description, AffectedPath: e.AffectedPath,
		Status: journal.StatusOK,
		Snapshots: []journal.Snapshot{{FilePath: e.AffectedPath, Content: current, Size: int64(len(current))}},
	}); err != nil {
		return err
	}

	if err := os.WriteFile(e.AffectedPath, previous, 0o644); err != nil {
		return errs.Wrap(errs.IOError, err, "restoring previous content").With("path", e.AffectedPath)
	}
	m.lineageT.UpdateContentHash(e.AffectedPath)
	m.extSink.RemoveSnapshot(e.AffectedPath)
	return nil
}

// synthesizeRedo builds the REDO entry for a successfully (or partially)
// smart-undone transaction, using the pre-restore content SmartUndo
// captured for each file it actually touched.
func (m *Manager) synthesizeRedo(e *journal.Entry, result *UndoResult) error {
	var snaps []journal.Snapshot
	for _, f := range result.Files {
		if f.Status != RestoreRestored && f.Status != RestoreRelocated {
			continue
		}
		snaps = append(snaps, journal.Snapshot{
			FilePath: f.RestoredPath, Content: f.PreRestoreContent, Size: int64(len(f.PreRestoreContent)),
		})
	}
	if len(snaps) == 0 {
		return nil
	}
	_, err := m.store.Insert(journal.NewEntryInput{
		Stack: journal.StackRedo, Kind: journal.KindTransaction,
		Description: e.Description, Instruction: e.Instruction,
		Status: journal.StatusOK, Snapshots: snaps,
	})
	return err
}

// Redo implements the symmetric half of 4.E.6: pop the top of REDO,
// snapshot current state into a new UNDO entry, and write the REDO
// entry's stored content.
func (m *Manager) Redo() (*UndoResult, error) {
	top, err := m.store.Pop(journal.StackRedo)
	if err != nil {
		return nil, err
	}
	if top == nil {
		return &UndoResult{Outcome: OutcomeNothingToUndo}, nil
	}

	var undoSnaps []journal.Snapshot
	var files []FileRestoreStatus
	for _, s := range top.Snapshots {
		current, _ := os.ReadFile(s.FilePath)
		undoSnaps = append(undoSnaps, journal.Snapshot{FilePath: s.FilePath, Content: current, Size: int64(len(current))})

		if err := writeOrDelete(s.FilePath, s.Content); err != nil {
			return nil, err
		}
		m.lineageT.UpdateContentHash(s.FilePath)
		m.extSink.RemoveSnapshot(s.FilePath)
		files = append(files, FileRestoreStatus{Path: s.FilePath, Status: RestoreRestored})
	}

	kind := top.Kind
	if kind == "" {
		kind = journal.KindTransaction
	}
	if _, err := m.store.Insert(journal.NewEntryInput{
		Stack: journal.StackUndo, Kind: kind,
		Description: top.Description, Instruction: top.Instruction,
		Status: journal.StatusOK, AffectedPath: top.AffectedPath, Snapshots: undoSnaps,
	}); err != nil {
		return nil, err
	}

	m.incrementUndos()
	return &UndoResult{Outcome: OutcomeSuccess, Files: files}, nil
}

func writeOrDelete(path string, content []byte) error {
	if content == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.IOError, err, "removing file during redo").With("path", path)
		}
		pruneEmptyAncestors(filepath.Dir(path))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IOError, err, "creating directories during redo").With("path", path)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errs.Wrap(errs.IOError, err, "writing file during redo").With("path", path)
	}
	return nil
}

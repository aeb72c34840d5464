package journal

import (
	"sync"
	"time"

	"filecore/errs"
)

// MemoryStore is the non-persisted Store implementation used exclusively
// by the "default" session, per the spec's requirement that it is never
// written to disk.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[int64]*Entry
	nextID   int64
	pos      map[Stack]int64
	counters map[string]int64
	metadata map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[int64]*Entry),
		pos:      map[Stack]int64{},
		counters: make(map[string]int64),
		metadata: make(map[string]string),
	}
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	cp.Snapshots = append([]Snapshot(nil), e.Snapshots...)
	cp.DiffStats = append([]DiffStat(nil), e.DiffStats...)
	return &cp
}

func (s *MemoryStore) Insert(input NewEntryInput) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.pos[input.Stack]++

	status := input.Status
	if status == "" {
		status = StatusOK
	}

	e := &Entry{
		ID: s.nextID, Stack: input.Stack, Kind: input.Kind, Position: s.pos[input.Stack],
		CreatedAt: time.Now().UTC(), Description: input.Description, Instruction: input.Instruction,
		Status: status, AffectedPath: input.AffectedPath, PreviousHash: input.PreviousHash,
		CurrentHash: input.CurrentHash, CheckpointName: input.CheckpointName,
		Snapshots: input.Snapshots, DiffStats: input.DiffStats,
	}
	s.entries[e.ID] = e
	return cloneEntry(e), nil
}

func (s *MemoryStore) List(stack Stack) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, e := range s.entries {
		if e.Stack == stack {
			out = append(out, cloneEntry(e))
		}
	}
	sortByPosition(out)
	return out, nil
}

func sortByPosition(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Position < entries[j-1].Position; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func (s *MemoryStore) topLocked(stack Stack) *Entry {
	var top *Entry
	for _, e := range s.entries {
		if e.Stack != stack {
			continue
		}
		if top == nil || e.Position > top.Position {
			top = e
		}
	}
	return top
}

func (s *MemoryStore) PeekTop(stack Stack) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.topLocked(stack)
	if top == nil {
		return nil, nil
	}
	return cloneEntry(top), nil
}

func (s *MemoryStore) Pop(stack Stack) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.topLocked(stack)
	if top == nil {
		return nil, nil
	}
	delete(s.entries, top.ID)
	return cloneEntry(top), nil
}

func (s *MemoryStore) MoveToStack(entryID int64, dest Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return errs.New(errs.Internal, "entry not found for move").With("entryId", entryID)
	}
	s.pos[dest]++
	e.Stack = dest
	e.Position = s.pos[dest]
	return nil
}

func (s *MemoryStore) ClearStack(stack Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.Stack == stack {
			delete(s.entries, id)
		}
	}
	s.pos[stack] = 0
	return nil
}

func (s *MemoryStore) Truncate(stack Stack, maxLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var onStack []*Entry
	for _, e := range s.entries {
		if e.Stack == stack {
			onStack = append(onStack, e)
		}
	}
	sortByPosition(onStack)
	excess := len(onStack) - maxLen
	for i := 0; i < excess; i++ {
		delete(s.entries, onStack[i].ID)
	}
	return nil
}

func (s *MemoryStore) UpdateStatus(entryID int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return errs.New(errs.Internal, "entry not found for status update").With("entryId", entryID)
	}
	e.Status = status
	return nil
}

func (s *MemoryStore) Delete(entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID)
	return nil
}

func (s *MemoryStore) IncrementCounter(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

func (s *MemoryStore) GetMetadata(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok, nil
}

func (s *MemoryStore) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	return nil
}

func (s *MemoryStore) Close() error { return nil }

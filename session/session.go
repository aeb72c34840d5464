// Package session implements the process-wide Session Context Registry
// (spec component 4.F): lazy per-session creation, disk-backed
// reactivation, and the thread/task binding tools use to address "the
// current session".
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"filecore/errs"
	"filecore/internal/logging"
	"filecore/journal"
	"filecore/lineage"
	"filecore/sandbox"
	"filecore/tokens"
	"filecore/txn"
)

const component = "session"

// DefaultSessionID is the fallback for callers that never bind a
// session. It is never persisted to disk.
const DefaultSessionID = "default"

// Context bundles one session's four cooperating subsystems plus its
// lifecycle metadata.
type Context struct {
	SessionID      string
	TokenManager   *tokens.Manager
	LineageTracker *lineage.Tracker
	TxManager      *txn.Manager
	CreatedAt      time.Time
	LastActivityAt time.Time
	ActiveTodoFile string

	store journal.Store
}

// Close releases the session's journal store handle.
func (c *Context) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Registry is the process-wide sessionId -> Context map, plus the
// "current session" binding, keyed by a caller-supplied task ID, used for
// the duration of a request.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Context

	current   map[string]*Context // taskID -> bound context
	currentMu sync.Mutex

	sandbox           *sandbox.Sandbox
	projectRoot       string
	sessionDirName    string
	journalMaxEntries int
}

// NewRegistry wires a registry to the process-wide sandbox and the
// project root under which `<sessionDirName>/sessions/<id>/` lives.
func NewRegistry(sb *sandbox.Sandbox, projectRoot, sessionDirName string, journalMaxEntries int) *Registry {
	return &Registry{
		sessions:          make(map[string]*Context),
		current:           make(map[string]*Context),
		sandbox:           sb,
		projectRoot:       projectRoot,
		sessionDirName:    sessionDirName,
		journalMaxEntries: journalMaxEntries,
	}
}

func (r *Registry) sessionDir(id string) string {
	return filepath.Join(r.projectRoot, r.sessionDirName, "sessions", id)
}

func (r *Registry) metaPath(id string) string {
	return filepath.Join(r.sessionDir(id), "session.meta")
}

// ExistsOnDisk reports whether a metadata file already exists for id.
func (r *Registry) ExistsOnDisk(id string) bool {
	_, err := os.Stat(r.metaPath(id))
	return err == nil
}

// GetOrCreate lazily builds a Context for id. If metadata already exists
// on disk, the session is reactivated from it (journal reloaded,
// in-memory state rebuilt) rather than created fresh -- the registry
// must never silently clobber a session that exists on disk.
func (r *Registry) GetOrCreate(id string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx, ok := r.sessions[id]; ok {
		return ctx, nil
	}

	var store journal.Store
	var createdAt, lastActivity time.Time
	var activeTodo string

	if id == DefaultSessionID {
		store = journal.NewMemoryStore()
		createdAt = time.Now()
		lastActivity = createdAt
	} else if r.ExistsOnDisk(id) {
		meta, err := readMeta(r.metaPath(id))
		if err != nil {
			return nil, err
		}
		createdAt = parseTimeOr(meta["created"], time.Now())
		lastActivity = parseTimeOr(meta["lastActivity"], createdAt)
		activeTodo = meta["activeTodo"]

		s, err := journal.OpenSQLiteStore(filepath.Join(r.sessionDir(id), "journal.db"))
		if err != nil {
			return nil, err
		}
		store = s
		logging.InfoCF(component, "session reactivated", map[string]interface{}{"sessionId": id})
	} else {
		if err := os.MkdirAll(r.sessionDir(id), 0o755); err != nil {
			return nil, errs.Wrap(errs.IOError, err, "creating session directory").With("sessionId", id)
		}
		s, err := journal.OpenSQLiteStore(filepath.Join(r.sessionDir(id), "journal.db"))
		if err != nil {
			return nil, err
		}
		store = s
		createdAt = time.Now()
		lastActivity = createdAt
		logging.InfoCF(component, "session created", map[string]interface{}{"sessionId": id})
	}

	tokenMgr := tokens.NewManager()
	lineageT := lineage.New()
	txMgr := txn.NewManager(r.sandbox, tokenMgr, lineageT, store, r.journalMaxEntries)

	ctx := &Context{
		SessionID: id, TokenManager: tokenMgr, LineageTracker: lineageT, TxManager: txMgr,
		CreatedAt: createdAt, LastActivityAt: lastActivity, ActiveTodoFile: activeTodo,
		store: store,
	}
	r.sessions[id] = ctx

	if id != DefaultSessionID {
		if err := r.persistMeta(ctx); err != nil {
			return nil, err
		}
	}

	return ctx, nil
}

// SetCurrent binds ctx to taskID for the duration of a request.
func (r *Registry) SetCurrent(taskID string, ctx *Context) {
	r.currentMu.Lock()
	defer r.currentMu.Unlock()
	r.current[taskID] = ctx
}

// Current returns the context bound to taskID, or nil.
func (r *Registry) Current(taskID string) *Context {
	r.currentMu.Lock()
	defer r.currentMu.Unlock()
	return r.current[taskID]
}

// ClearCurrent unbinds taskID.
func (r *Registry) ClearCurrent(taskID string) {
	r.currentMu.Lock()
	defer r.currentMu.Unlock()
	delete(r.current, taskID)
}

// CurrentOrDefault returns the bound context for taskID, falling back to
// the default session for legacy call sites that never bind one.
func (r *Registry) CurrentOrDefault(taskID string) (*Context, error) {
	if ctx := r.Current(taskID); ctx != nil {
		return ctx, nil
	}
	return r.GetOrCreate(DefaultSessionID)
}

// DestroySession releases resources and removes id from the map.
func (r *Registry) DestroySession(id string) error {
	r.mu.Lock()
	ctx, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	logging.InfoCF(component, "session destroyed", map[string]interface{}{"sessionId": id})
	return ctx.Close()
}

// IsActiveInMemory reports whether id currently has a live Context.
func (r *Registry) IsActiveInMemory(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// GetMetadata reads session.meta for id without activating it.
func (r *Registry) GetMetadata(id string) (map[string]string, error) {
	return readMeta(r.metaPath(id))
}

// ReactivateSession forces GetOrCreate for an id known to exist on disk,
// surfacing an error if it does not.
func (r *Registry) ReactivateSession(id string) (*Context, error) {
	if id != DefaultSessionID && !r.ExistsOnDisk(id) {
		return nil, errs.New(errs.Internal, "no on-disk session to reactivate").With("sessionId", id)
	}
	return r.GetOrCreate(id)
}

// TouchActivity updates lastActivityAt and persists metadata.
func (r *Registry) TouchActivity(ctx *Context) error {
	ctx.LastActivityAt = time.Now()
	if ctx.SessionID == DefaultSessionID {
		return nil
	}
	return r.persistMeta(ctx)
}

func (r *Registry) persistMeta(ctx *Context) error {
	values := map[string]string{
		"sessionId":    ctx.SessionID,
		"created":      ctx.CreatedAt.UTC().Format(time.RFC3339),
		"lastActivity": ctx.LastActivityAt.UTC().Format(time.RFC3339),
		"activeTodo":   ctx.ActiveTodoFile,
	}
	if err := os.MkdirAll(r.sessionDir(ctx.SessionID), 0o755); err != nil {
		return errs.Wrap(errs.IOError, err, "creating session directory")
	}
	return writeMeta(r.metaPath(ctx.SessionID), values)
}

// writeMeta renders values as line-oriented key=value text, the format
// the spec calls out explicitly as "trivially reloadable".
func writeMeta(path string, values map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "writing session metadata").With("path", path)
	}
	defer f.Close()
	for _, k := range []string{"sessionId", "created", "lastActivity", "activeTodo"} {
		if _, err := fmt.Fprintf(f, "%s=%s\n", k, values[k]); err != nil {
			return errs.Wrap(errs.IOError, err, "writing session metadata line")
		}
	}
	return nil
}

// readMeta parses the key=value metadata file via godotenv, the same
// line-oriented parser used for .env-style files elsewhere in the pack.
func readMeta(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errs.Wrap(errs.IOError, err, "reading session metadata").With("path", path)
	}
	return values, nil
}

func parseTimeOr(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fallback
	}
	return t
}

// Package sandbox implements the process-wide path authorization policy
// (spec component 4.A): every path resolved by the rest of filecore must
// pass through Sanitize, and designated infrastructure names are never
// writable unless a caller explicitly opts in.
//
// The root set is mutable at runtime and is read far more often than it
// is written, so updates replace the slice wholesale under the lock
// (copy-on-write) rather than mutating it in place -- the write lock is
// held only for the slice swap, and readers never see a half-updated set.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filecore/errs"
	"filecore/internal/logging"
)

const component = "sandbox"

// RefreshFunc is invoked when Sanitize fails to resolve a path inside any
// root, giving the hosting layer a chance to supply additional roots.
// It must not re-enter the Sandbox (no SetRoots from within the callback
// on the same goroutine while the cooldown lock is held).
type RefreshFunc func(requestedPath string) (newRoots []string, ok bool)

// Sandbox is a process-wide singleton; construct one with New and share
// it, rather than relying on package-level state, so tests can run
// isolated instances.
type Sandbox struct {
	mu              sync.RWMutex
	roots           []string
	protectedNames  map[string]struct{}
	maxFileSize     int64
	refresh         RefreshFunc
	refreshCooldown time.Duration
	lastRefreshAt   time.Time
}

// New builds a Sandbox with the given protected-name set and file-size
// ceiling. Roots must be set separately via SetRoots before Sanitize is
// useful.
func New(protectedNames []string, maxFileSizeBytes int64, refreshCooldown time.Duration) *Sandbox {
	set := make(map[string]struct{}, len(protectedNames))
	for _, n := range protectedNames {
		set[n] = struct{}{}
	}
	return &Sandbox{
		protectedNames:  set,
		maxFileSize:     maxFileSizeBytes,
		refreshCooldown: refreshCooldown,
	}
}

// SetRefreshCallback registers the sole coupling to the outer request
// layer: a hook invoked (rate-limited) when a path cannot be resolved
// inside any configured root.
func (s *Sandbox) SetRefreshCallback(fn RefreshFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = fn
}

// SetRoots replaces the authorized root set wholesale. The first entry
// becomes the primary root used to resolve relative paths.
func (s *Sandbox) SetRoots(roots []string) error {
	normalized := make([]string, 0, len(roots))
	for _, r := range roots {
		n, err := normalize(r)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "normalizing root").With("root", r)
		}
		normalized = append(normalized, n)
	}
	s.mu.Lock()
	s.roots = normalized
	s.mu.Unlock()
	logging.InfoCF(component, "roots replaced", map[string]interface{}{"count": len(normalized)})
	return nil
}

// SetRoot is shorthand for SetRoots with a single primary root.
func (s *Sandbox) SetRoot(root string) error {
	return s.SetRoots([]string{root})
}

// Roots returns a snapshot of the current root set.
func (s *Sandbox) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

func normalize(p string) (string, error) {
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		p = abs
	}
	return filepath.Clean(p), nil
}

func hasPrefixPath(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Sanitize normalizes requestedPath, resolves it against the primary
// root if relative, and verifies the result falls under at least one
// configured root. If no root matches, the registered refresh callback
// (if any) is invoked at most once per cooldown window, and the check is
// retried once if the root set changed as a result.
func (s *Sandbox) Sanitize(requestedPath string, allowProtected bool) (string, error) {
	resolved, err := s.resolve(requestedPath)
	if err != nil {
		return "", err
	}

	if !allowProtected {
		if bad, seg := s.protectedSegment(resolved); bad {
			return "", errs.New(errs.PathProtected, "path contains a protected segment").
				With("path", resolved).With("segment", seg)
		}
	}

	return resolved, nil
}

func (s *Sandbox) resolve(requestedPath string) (string, error) {
	candidate := filepath.Clean(requestedPath)

	s.mu.RLock()
	roots := s.roots
	s.mu.RUnlock()

	if !filepath.IsAbs(candidate) {
		if len(roots) == 0 {
			return "", errs.New(errs.PathOutsideRoots, "no primary root configured").With("path", requestedPath)
		}
		candidate = filepath.Clean(filepath.Join(roots[0], candidate))
	}

	if withinAny(candidate, roots) {
		return candidate, nil
	}

	if s.tryRefresh(requestedPath) {
		s.mu.RLock()
		roots = s.roots
		s.mu.RUnlock()
		if withinAny(candidate, roots) {
			return candidate, nil
		}
	}

	return "", errs.New(errs.PathOutsideRoots, "path resolves outside all authorized roots").
		With("path", candidate)
}

func withinAny(candidate string, roots []string) bool {
	for _, r := range roots {
		if hasPrefixPath(candidate, r) {
			return true
		}
	}
	return false
}

func (s *Sandbox) tryRefresh(requestedPath string) bool {
	s.mu.Lock()
	if s.refresh == nil {
		s.mu.Unlock()
		return false
	}
	if time.Since(s.lastRefreshAt) < s.refreshCooldown {
		s.mu.Unlock()
		return false
	}
	s.lastRefreshAt = time.Now()
	refresh := s.refresh
	s.mu.Unlock()

	newRoots, ok := refresh(requestedPath)
	if !ok || len(newRoots) == 0 {
		return false
	}
	logging.InfoCF(component, "refresh callback supplied new roots", map[string]interface{}{
		"requested": requestedPath, "count": len(newRoots),
	})
	return s.SetRoots(newRoots) == nil
}

// IsProtected reports whether any segment of path matches a protected
// name, without requiring the path to already be sandbox-resolved.
func (s *Sandbox) IsProtected(path string) bool {
	bad, _ := s.protectedSegment(filepath.Clean(path))
	return bad
}

func (s *Sandbox) protectedSegment(path string) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seg := range strings.Split(path, string(filepath.Separator)) {
		if seg == "" {
			continue
		}
		if _, ok := s.protectedNames[seg]; ok {
			return true, seg
		}
	}
	return false, ""
}

// CheckFileSize fails with FileTooLarge when path's size exceeds the
// configured ceiling. A missing file is not an error here; callers
// typically check size only for files known to exist.
func (s *Sandbox) CheckFileSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.IOError, err, "stat for size check").With("path", path)
	}
	s.mu.RLock()
	max := s.maxFileSize
	s.mu.RUnlock()
	if info.Size() > max {
		return errs.New(errs.FileTooLarge, "file exceeds size ceiling").
			With("path", path).With("size", info.Size()).With("max", max)
	}
	return nil
}

// Package tokens implements the per-session Line Access Token Manager
// (spec component 4.C): issuing, validating, shifting, and transplanting
// range-based capabilities over file line ranges.
//
// A token is a capability: holding one is proof the client read exactly
// the bytes it claims to be editing. Validation happens at every write
// entry point; the manager never trusts a caller's own bookkeeping.
package tokens

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"filecore/internal/logging"
)

const component = "tokens"

// ValidationStatus is the result of validating a token against current
// file state.
type ValidationStatus string

const (
	Valid             ValidationStatus = "VALID"
	LineCountMismatch ValidationStatus = "LINE_COUNT_MISMATCH"
	CRCMismatch       ValidationStatus = "CRC_MISMATCH"
	NotFound          ValidationStatus = "NOT_FOUND"
)

// Token is an immutable capability value. Updates produce new tokens;
// nothing in this package mutates a Token in place once issued.
type Token struct {
	Path                      string
	StartLine                 int
	EndLine                   int
	RangeContentHash          uint32
	TotalLineCountAtIssueTime int
}

// Hash computes the 32-bit CRC range fingerprint. CRC-32 is used, not a
// cryptographic hash, because the field is defence-in-depth over an
// already capability-gated API -- collisions are acceptable.
func Hash(rangeText string) uint32 {
	return crc32.ChecksumIEEE([]byte(rangeText))
}

// Manager is a per-session token store: a map of path -> map of
// startLine -> token (SortedStartLines gives the keys in ascending
// order), plus the rename alias graph used to transplant
// tokens issued before a move.
type Manager struct {
	mu sync.Mutex

	// byPath[path][startLine] = token
	byPath map[string]map[int]Token

	// aliasFwd[old] = new, aliasRev[new] = old; walked to resolve a path
	// across a chain of renames.
	aliasFwd map[string]string
	aliasRev map[string]string

	// txOwned marks a path as "accessed-in-the-current-transaction" or
	// "created-in-the-current-transaction": validation short-circuits to
	// VALID for these paths per the InfinityRange/Task-Tokens relaxation.
	txOwned map[string]bool
}

func NewManager() *Manager {
	return &Manager{
		byPath:   make(map[string]map[int]Token),
		aliasFwd: make(map[string]string),
		aliasRev: make(map[string]string),
		txOwned:  make(map[string]bool),
	}
}

// MarkTransactionOwned flags path as exempt from hash/line-count
// validation for the duration of the active transaction (the caller is
// responsible for clearing this via ClearTransactionOwnership on
// commit/rollback).
func (m *Manager) MarkTransactionOwned(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txOwned[path] = true
}

// ClearTransactionOwnership drops all transaction-owned flags, called at
// commit/rollback.
func (m *Manager) ClearTransactionOwnership() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txOwned = make(map[string]bool)
}

func (m *Manager) isTxOwned(path string) bool {
	return m.txOwned[path]
}

func covers(outerStart, outerEnd, innerStart, innerEnd int) bool {
	return outerStart <= innerStart && outerEnd >= innerEnd
}

func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && bStart <= aEnd
}

// RegisterAccess implements 4.C.1: return a token covering
// [startLine,endLine], reusing a wider existing token when that
// preserves the cover relation, merging/replacing overlapping entries
// per Policy A (replace) -- see DESIGN.md for why Policy A was chosen
// over Policy B.
func (m *Manager) RegisterAccess(path string, startLine, endLine int, rangeText string, totalLineCount int) Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Hash(rangeText)
	tokensForPath := m.byPath[path]
	if tokensForPath == nil {
		tokensForPath = make(map[int]Token)
		m.byPath[path] = tokensForPath
	}

	// Step 2: exact hit.
	if existing, ok := tokensForPath[startLine]; ok &&
		existing.EndLine == endLine && existing.TotalLineCountAtIssueTime == totalLineCount {
		if existing.RangeContentHash == h {
			return existing
		}
		delete(tokensForPath, startLine)
	}

	// Step 3: covering hit.
	for _, tok := range tokensForPath {
		if tok.TotalLineCountAtIssueTime == totalLineCount && covers(tok.StartLine, tok.EndLine, startLine, endLine) {
			return tok
		}
	}

	// Step 4: absorb tokens fully inside the requested range.
	for start, tok := range tokensForPath {
		if tok.TotalLineCountAtIssueTime == totalLineCount && covers(startLine, endLine, tok.StartLine, tok.EndLine) {
			delete(tokensForPath, start)
		}
	}

	// Step 5: Policy A -- replace any overlapping-but-not-contained token.
	for start, tok := range tokensForPath {
		if tok.TotalLineCountAtIssueTime == totalLineCount && overlaps(tok.StartLine, tok.EndLine, startLine, endLine) {
			delete(tokensForPath, start)
		}
	}

	fresh := Token{
		Path:                      path,
		StartLine:                 startLine,
		EndLine:                   endLine,
		RangeContentHash:          h,
		TotalLineCountAtIssueTime: totalLineCount,
	}
	tokensForPath[startLine] = fresh

	logging.DebugCF(component, "access registered", map[string]interface{}{
		"path": path, "start": startLine, "end": endLine,
	})
	return fresh
}

// ValidateToken implements 4.C.2.
func (m *Manager) ValidateToken(token Token, currentRangeText string, currentTotalLineCount int) ValidationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isTxOwned(token.Path) {
		return Valid
	}
	if token.TotalLineCountAtIssueTime != currentTotalLineCount {
		return LineCountMismatch
	}
	if Hash(currentRangeText) != token.RangeContentHash {
		return CRCMismatch
	}
	tokensForPath, ok := m.byPath[token.Path]
	if !ok {
		return NotFound
	}
	for _, tok := range tokensForPath {
		if tok.TotalLineCountAtIssueTime == currentTotalLineCount && covers(tok.StartLine, tok.EndLine, token.StartLine, token.EndLine) {
			return Valid
		}
	}
	return NotFound
}

// ShiftTokensAfterLine implements 4.C.3, adjusting every stored token on
// path after an edit at afterLine that changed the line count by delta.
func (m *Manager) ShiftTokensAfterLine(path string, afterLine, delta, newTotalLineCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shiftTokensAfterLineLocked(path, afterLine, delta, newTotalLineCount)
}

func (m *Manager) shiftTokensAfterLineLocked(path string, afterLine, delta, newTotalLineCount int) {
	tokensForPath := m.byPath[path]
	if tokensForPath == nil {
		return
	}
	updated := make(map[int]Token, len(tokensForPath))
	for _, tok := range tokensForPath {
		switch {
		case tok.EndLine < afterLine:
			tok.TotalLineCountAtIssueTime = newTotalLineCount
			updated[tok.StartLine] = tok
		case tok.StartLine > afterLine:
			tok.StartLine += delta
			tok.EndLine += delta
			tok.TotalLineCountAtIssueTime = newTotalLineCount
			if tok.StartLine > 0 && tok.EndLine > 0 {
				updated[tok.StartLine] = tok
			}
		default:
			// Straddles afterLine: always dropped. A token whose range
			// overlapped the edited line can no longer vouch for content
			// it never validated against; the caller must re-read.
		}
	}
	m.byPath[path] = updated
}

// UpdateAfterEdit implements 4.C.4: shifts existing tokens around the
// edit, then inserts and returns a fresh token covering the edited
// range's new extent.
func (m *Manager) UpdateAfterEdit(path string, editStart, editEnd, lineDelta int, newRangeText string, newTotalLineCount int) Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shiftTokensAfterLineLocked(path, editStart, lineDelta, newTotalLineCount)

	endLine := editStart + lineDelta
	if endLine < editStart {
		endLine = editStart
	}
	if editEnd+lineDelta > endLine {
		endLine = editEnd + lineDelta
	}

	tok := Token{
		Path:                      path,
		StartLine:                 editStart,
		EndLine:                   endLine,
		RangeContentHash:          Hash(newRangeText),
		TotalLineCountAtIssueTime: newTotalLineCount,
	}

	tokensForPath := m.byPath[path]
	if tokensForPath == nil {
		tokensForPath = make(map[int]Token)
		m.byPath[path] = tokensForPath
	}
	tokensForPath[tok.StartLine] = tok
	return tok
}

// MoveTokens implements 4.C.5: re-keys the token map from oldPath to
// newPath and records the alias both ways.
func (m *Manager) MoveTokens(oldPath, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tokensForPath, ok := m.byPath[oldPath]; ok {
		moved := make(map[int]Token, len(tokensForPath))
		for start, tok := range tokensForPath {
			tok.Path = newPath
			moved[start] = tok
		}
		delete(m.byPath, oldPath)
		m.byPath[newPath] = moved
	}

	m.aliasFwd[oldPath] = newPath
	m.aliasRev[newPath] = oldPath

	logging.InfoCF(component, "tokens moved", map[string]interface{}{"old": oldPath, "new": newPath})
}

// ResolveCurrentPath walks the alias chain forward from p with a cycle
// guard, returning the final current path (p itself if no alias exists).
func (m *Manager) ResolveCurrentPath(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{p: true}
	cur := p
	for {
		next, ok := m.aliasFwd[cur]
		if !ok || seen[next] {
			return cur
		}
		seen[next] = true
		cur = next
	}
}

// GetPreviousPaths returns the transitive closure of reverse aliases for
// p: every path that eventually renamed into p.
func (m *Manager) GetPreviousPaths(p string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	seen := map[string]bool{p: true}
	frontier := []string{p}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		prev, ok := m.aliasRev[cur]
		if !ok || seen[prev] {
			continue
		}
		seen[prev] = true
		out = append(out, prev)
		frontier = append(frontier, prev)
	}
	return out
}

// SortedStartLines returns the start lines registered for path in
// ascending order, primarily useful for tests and diagnostics -- it is
// the invariant-1 surface ("no two tokens share a startLine").
func (m *Manager) SortedStartLines(path string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokensForPath := m.byPath[path]
	starts := make([]int, 0, len(tokensForPath))
	for s := range tokensForPath {
		starts = append(starts, s)
	}
	sort.Ints(starts)
	return starts
}

// Encode renders token as the opaque wire form: "LAT:" followed by a
// compact, URL-safe, lossless encoding. See codec.go.
func (t Token) Encode() string { return encodeToken(t) }

// Decode parses the wire form produced by Encode.
func Decode(wire string) (Token, error) { return decodeToken(wire) }

func (t Token) String() string {
	return fmt.Sprintf("Token{%s %d-%d n=%d crc=%08x}", t.Path, t.StartLine, t.EndLine, t.TotalLineCountAtIssueTime, t.RangeContentHash)
}

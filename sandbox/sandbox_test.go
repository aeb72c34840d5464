package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitize_RelativeResolvesAgainstPrimaryRoot(t *testing.T) {
	root := t.TempDir()
	sb := New(nil, 10<<20, time.Second)
	if err := sb.SetRoot(root); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}

	got, err := sb.Sanitize("sub/file.txt", false)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	want := filepath.Join(root, "sub/file.txt")
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestSanitize_RejectsOutsideRoots(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	sb := New(nil, 10<<20, time.Second)
	_ = sb.SetRoot(root)

	if _, err := sb.Sanitize(filepath.Join(outside, "x.txt"), false); err == nil {
		t.Fatalf("expected PATH_OUTSIDE_ROOTS error")
	}
}

func TestSanitize_ProtectedNameDeniedByDefault(t *testing.T) {
	root := t.TempDir()
	sb := New([]string{".git"}, 10<<20, time.Second)
	_ = sb.SetRoot(root)

	if _, err := sb.Sanitize(".git/config", false); err == nil {
		t.Fatalf("expected PATH_PROTECTED error")
	}
	if _, err := sb.Sanitize(".git/config", true); err != nil {
		t.Fatalf("allowProtected=true should bypass the check: %v", err)
	}
}

func TestSanitize_InvariantNeverReturnsProtectedSegment(t *testing.T) {
	root := t.TempDir()
	sb := New([]string{"node_modules"}, 10<<20, time.Second)
	_ = sb.SetRoot(root)

	paths := []string{"src/app.go", "node_modules/pkg/index.js", "a/b/c.txt"}
	for _, p := range paths {
		resolved, err := sb.Sanitize(p, false)
		if err != nil {
			continue
		}
		for _, seg := range strings.Split(resolved, string(filepath.Separator)) {
			if seg == "node_modules" {
				t.Fatalf("sanitize(%q, false) returned a protected segment: %s", p, resolved)
			}
		}
	}
}

func TestRefreshCallback_InvokedOnceAndRateLimited(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	sb := New(nil, 10<<20, time.Hour)
	_ = sb.SetRoot(root)

	calls := 0
	sb.SetRefreshCallback(func(requested string) ([]string, bool) {
		calls++
		return []string{other}, true
	})

	if _, err := sb.Sanitize(filepath.Join(other, "f.txt"), false); err != nil {
		t.Fatalf("expected refresh to supply the new root: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", calls)
	}

	// A second distinct outside path within the cooldown window must not
	// trigger a second refresh call.
	thirdRoot := t.TempDir()
	if _, err := sb.Sanitize(filepath.Join(thirdRoot, "f.txt"), false); err == nil {
		t.Fatalf("expected failure: refresh is cooling down and doesn't know about thirdRoot")
	}
	if calls != 1 {
		t.Fatalf("expected the callback to stay rate-limited at 1 call, got %d", calls)
	}
}

func TestCheckFileSize(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.txt")
	if err := os.WriteFile(small, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	sb := New(nil, 1, time.Second)
	if err := sb.CheckFileSize(small); err == nil {
		t.Fatalf("expected FILE_TOO_LARGE for a 2-byte file over a 1-byte ceiling")
	}
}

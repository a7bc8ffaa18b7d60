package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWatcher_RejectsNilCallback(t *testing.T) {
	w, err := NewWatcher(100*time.Millisecond, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for nil callback")
	}
	if !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("expected os.ErrInvalid, got %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher when callback is invalid")
	}
}

func waitFor(t *testing.T, changes <-chan []string, target string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case paths := <-changes:
			for _, p := range paths {
				if p == target {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change to %s", target)
		}
	}
}

func TestWatcher(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 8)
	w, err := NewWatcher(50*time.Millisecond, []string{"node_modules"}, []string{"*.generated.js"}, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch([]string{tmpDir}); err != nil {
		t.Fatal(err)
	}

	testFile := filepath.Join(tmpDir, "worker.ts")
	if err := os.WriteFile(testFile, []byte("export const a = 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, testFile, 2*time.Second)

	for _, name := range []string{"bundle.generated.js", "README.md", "types.d.ts"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case paths := <-changedFiles:
		t.Errorf("excluded files triggered change: %v", paths)
	case <-time.After(300 * time.Millisecond):
	}

	subdir := filepath.Join(tmpDir, "lib")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatal(err)
	}
	subFile := filepath.Join(subdir, "math.js")
	if err := os.WriteFile(subFile, []byte("module.exports = {};"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, subFile, 2*time.Second)
}

func TestWatcher_SkipsUnchangedContent(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "worker.js")
	content := []byte("module.exports = { add: (a, b) => a + b };")
	if err := os.WriteFile(testFile, content, 0o644); err != nil {
		t.Fatal(err)
	}

	changedFiles := make(chan []string, 8)
	w, err := NewWatcher(50*time.Millisecond, nil, nil, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{tmpDir}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(testFile, content, 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case paths := <-changedFiles:
		t.Fatalf("expected identical rewrite to be ignored, got %v", paths)
	case <-time.After(300 * time.Millisecond):
	}

	if err := os.WriteFile(testFile, []byte("module.exports = { add: (a, b) => b + a };"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changedFiles, testFile, 2*time.Second)
}

func TestWatcher_RenameTriggersChange(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 8)
	w, err := NewWatcher(50*time.Millisecond, nil, nil, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{tmpDir}); err != nil {
		t.Fatal(err)
	}

	oldPath := filepath.Join(tmpDir, "old.ts")
	newPath := filepath.Join(tmpDir, "new.ts")
	if err := os.WriteFile(oldPath, []byte("export {};"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case paths := <-changedFiles:
			for _, p := range paths {
				if p == oldPath || p == newPath {
					return
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for rename event, old=%s new=%s", oldPath, newPath)
		}
	}
}

func TestWatcher_Filters(t *testing.T) {
	w, err := NewWatcher(10*time.Millisecond, []string{"**/vendor"}, []string{"*.spec.ts"}, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	cases := []struct {
		path     string
		excluded bool
	}{
		{"src/worker.ts", false},
		{"src/worker.mjs", false},
		{"src/config.json", false},
		{"src/worker.spec.ts", true},
		{"src/types.d.ts", true},
		{"src/main.py", true},
	}
	for _, tc := range cases {
		if got := w.shouldExcludeFile(tc.path); got != tc.excluded {
			t.Errorf("shouldExcludeFile(%q) = %v, want %v", tc.path, got, tc.excluded)
		}
	}

	if !w.shouldExcludeDir("/repo/third_party/vendor") {
		t.Error("expected path glob to exclude nested vendor dir")
	}
	if w.shouldExcludeDir("/repo/src") {
		t.Error("expected src to be watched")
	}

	lit, err := NewWatcher(10*time.Millisecond, []string{"build/out"}, nil, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer lit.Close()
	lit.roots = []string{"/repo"}
	if !lit.shouldExcludeDir("/repo/build/out/chunks") {
		t.Error("expected literal path to exclude nested dir under a watched root")
	}
	if lit.shouldExcludeDir("/repo/build/output") {
		t.Error("expected literal path not to match a sibling prefix")
	}
	if lit.shouldExcludeDir("/elsewhere/build/out") {
		t.Error("expected literal path to apply relative to watched roots only")
	}

	if _, err := NewWatcher(time.Second, []string{"[bad"}, nil, func([]string) {}); err == nil {
		t.Error("expected invalid glob to be rejected")
	}
}

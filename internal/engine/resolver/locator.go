package resolver

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"omniworker/internal/shared/observability"
)

// BinaryExtension marks a compiled native addon.
const BinaryExtension = ".node"

const defaultLocatorCacheSize = 256

// BinaryMatch is one native addon file found under a package directory.
type BinaryMatch struct {
	Package string `json:"package"`
	Path    string `json:"path"`
}

// Locator finds native addon files belonging to installed packages.
type Locator struct {
	cache *matchCache
}

func NewLocator(cacheSize int) *Locator {
	if cacheSize <= 0 {
		cacheSize = defaultLocatorCacheSize
	}
	return &Locator{cache: newMatchCache(cacheSize)}
}

// Locate walks <root>/<pkg> under every root and returns each file ending
// in BinaryExtension. Roots are independent: a missing or unreadable root
// contributes zero matches and never fails the others.
func (l *Locator) Locate(pkg string, roots []string) []BinaryMatch {
	if !IsPackageSpecifier(pkg) {
		return nil
	}

	key := newLookupKey(pkg, roots)
	if cached, ok := l.cache.lookup(key); ok {
		return cached
	}

	start := time.Now()
	var matches []BinaryMatch
	for _, root := range roots {
		matches = append(matches, locateUnderRoot(pkg, root)...)
	}
	observability.LocatorWalkDuration.Observe(time.Since(start).Seconds())

	l.cache.store(key, matches)
	return matches
}

// Reset drops memoized results, e.g. after packages were installed.
func (l *Locator) Reset() {
	l.cache.reset()
}

func locateUnderRoot(pkg, root string) []BinaryMatch {
	if strings.TrimSpace(root) == "" {
		return nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil
	}

	dir := filepath.Join(absRoot, filepath.FromSlash(pkg))
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return nil
	}

	var matches []BinaryMatch
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != resolved {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), BinaryExtension) {
			return nil
		}
		// report paths under the original package directory, not the symlink target
		rel, relErr := filepath.Rel(resolved, path)
		if relErr != nil {
			rel = d.Name()
		}
		matches = append(matches, BinaryMatch{Package: pkg, Path: filepath.Join(dir, rel)})
		return nil
	})
	if walkErr != nil {
		slog.Debug("binary locator walk stopped", "package", pkg, "root", absRoot, "error", walkErr)
	}
	return matches
}

package resolver

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"omniworker/internal/engine/parser"
	"omniworker/internal/shared/observability"
)

// DefaultModuleRoot is the package directory searched relative to the
// working directory.
const DefaultModuleRoot = "node_modules"

// ClassifiedReference is a reference backed by exactly one native addon.
type ClassifiedReference struct {
	parser.ModuleReference
	IsNativeBinaryModule  bool   `json:"isNativeBinaryModule"`
	DependsOnNativeBinary bool   `json:"dependsOnNativeBinary"`
	BinaryPath            string `json:"binaryPath,omitempty"`
}

// Classifier cross-references scanned declarations with Locator results.
type Classifier struct {
	locator *Locator
	roots   []string
}

func NewClassifier(locator *Locator, roots []string) *Classifier {
	if locator == nil {
		locator = NewLocator(0)
	}
	return &Classifier{locator: locator, roots: append([]string(nil), roots...)}
}

func (c *Classifier) Roots() []string {
	return append([]string(nil), c.roots...)
}

// Classify keeps only references whose specifier resolves to exactly one
// native addon. Zero or several matches leave the reference out: loading
// the wrong binary silently is worse than not rewriting.
func (c *Classifier) Classify(refs []parser.ModuleReference) []ClassifiedReference {
	var classified []ClassifiedReference
	for _, ref := range refs {
		matches := c.locator.Locate(ref.Specifier, c.roots)
		switch len(matches) {
		case 1:
			observability.ClassificationTotal.WithLabelValues("classified").Inc()
			classified = append(classified, ClassifiedReference{
				ModuleReference:       ref,
				IsNativeBinaryModule:  strings.HasSuffix(ref.Specifier, BinaryExtension),
				DependsOnNativeBinary: strings.HasSuffix(matches[0].Path, BinaryExtension),
				BinaryPath:            matches[0].Path,
			})
		case 0:
			observability.ClassificationTotal.WithLabelValues("unmatched").Inc()
		default:
			observability.ClassificationTotal.WithLabelValues("ambiguous").Inc()
			slog.Debug("ambiguous native binary match, leaving reference unclassified",
				"specifier", ref.Specifier, "line", ref.Line, "matches", len(matches))
		}
	}
	return classified
}

// SearchRoots returns <cwd>/<moduleRoot> followed by every extra path. Extra
// entries may hold OS path lists (NODE_PATH style). Duplicates are dropped.
func SearchRoots(cwd, moduleRoot string, extra ...string) []string {
	if strings.TrimSpace(moduleRoot) == "" {
		moduleRoot = DefaultModuleRoot
	}
	if !filepath.IsAbs(moduleRoot) {
		moduleRoot = filepath.Join(cwd, moduleRoot)
	}

	seen := make(map[string]bool)
	roots := make([]string, 0, 1+len(extra))
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		p = filepath.Clean(p)
		if seen[p] {
			return
		}
		seen[p] = true
		roots = append(roots, p)
	}

	add(moduleRoot)
	for _, e := range extra {
		for _, p := range filepath.SplitList(e) {
			add(p)
		}
	}
	return roots
}

// EnvSearchPath reads the extra search path from the named environment
// variable, NODE_PATH when name is empty.
func EnvSearchPath(name string) string {
	if strings.TrimSpace(name) == "" {
		name = "NODE_PATH"
	}
	return os.Getenv(name)
}

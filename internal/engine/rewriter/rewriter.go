package rewriter

import (
	"strings"

	"omniworker/internal/engine/parser"
	"omniworker/internal/engine/resolver"
	"omniworker/internal/shared/observability"
)

// Result is the rewritten module text and the 1-based lines that changed.
type Result struct {
	Text      string
	Rewritten []int
}

// Rewriter replaces declarations backed by a single native addon with
// direct loads of the addon path.
type Rewriter struct {
	scanner *parser.Scanner
}

func New(scanner *parser.Scanner) *Rewriter {
	if scanner == nil {
		scanner = parser.NewScanner()
	}
	return &Rewriter{scanner: scanner}
}

// Rewrite processes source line by line. A line changes only when it parses
// on its own as one declaration that structurally matches exactly one
// classified entry; every other line is copied verbatim.
func (r *Rewriter) Rewrite(source string, classified []resolver.ClassifiedReference, flavor parser.Flavor) Result {
	candidates := nativeCandidates(classified)
	if len(candidates) == 0 {
		return Result{Text: source}
	}

	lines := strings.Split(source, "\n")
	var rewritten []int
	for i, raw := range lines {
		line, eol := splitCarriageReturn(raw)
		ref, trailing, ok := r.scanner.ParseStatement(line, flavor)
		if !ok {
			continue
		}

		match, ok := uniqueMatch(ref, candidates)
		if !ok {
			continue
		}

		replacement := leadingWhitespace(line) + emit(ref, match.BinaryPath, flavor)
		if trailing != "" {
			replacement += " " + trailing
		}
		lines[i] = replacement + eol
		rewritten = append(rewritten, i+1)
	}

	observability.LinesRewrittenTotal.Add(float64(len(rewritten)))
	return Result{Text: strings.Join(lines, "\n"), Rewritten: rewritten}
}

func nativeCandidates(classified []resolver.ClassifiedReference) []resolver.ClassifiedReference {
	out := make([]resolver.ClassifiedReference, 0, len(classified))
	for _, c := range classified {
		if c.DependsOnNativeBinary && c.BinaryPath != "" {
			out = append(out, c)
		}
	}
	return out
}

// uniqueMatch finds the single distinct classified entry with ref's shape.
// Entries repeated with the same shape and binary path count once.
func uniqueMatch(ref parser.ModuleReference, candidates []resolver.ClassifiedReference) (resolver.ClassifiedReference, bool) {
	var found *resolver.ClassifiedReference
	for i := range candidates {
		c := &candidates[i]
		if !c.SameShape(ref) {
			continue
		}
		if found == nil {
			found = c
			continue
		}
		if found.BinaryPath != c.BinaryPath {
			return resolver.ClassifiedReference{}, false
		}
	}
	if found == nil {
		return resolver.ClassifiedReference{}, false
	}
	return *found, true
}

func splitCarriageReturn(line string) (string, string) {
	if strings.HasSuffix(line, "\r") {
		return strings.TrimSuffix(line, "\r"), "\r"
	}
	return line, ""
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

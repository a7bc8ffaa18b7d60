package parser

import (
	"regexp"
	"strings"
	"time"

	"omniworker/internal/shared/observability"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

var (
	importStartPattern  = regexp.MustCompile(`^\s*import(\s|\{|\*|'|")`)
	requireCallPattern  = regexp.MustCompile(`\brequire\s*\(`)
	fromClausePattern   = regexp.MustCompile(`\bfrom\s*['"]`)
	// `const {` opening a destructuring pattern that continues on later lines.
	patternStartPattern = regexp.MustCompile(`^\s*(const|let|var)\s*\{[^}]*$`)
)

// maxBlockLines bounds how far a multi-line `import {` or `const {` block
// is followed.
const maxBlockLines = 64

// Scanner extracts import/require declarations from JavaScript and
// TypeScript sources. Safe for concurrent use.
type Scanner struct {
	pools  map[Flavor]*ParserPool
	engine *ExtractorEngine
}

func NewScanner() *Scanner {
	return &Scanner{
		pools: map[Flavor]*ParserPool{
			FlavorPlain: NewParserPool(grammarFor(FlavorPlain)),
			FlavorTyped: NewParserPool(grammarFor(FlavorTyped)),
		},
		engine: NewExtractorEngine(declarationHandlers()),
	}
}

type chunk struct {
	text      string
	startLine int // 0-based
}

// Scan returns the module's declarations in source order. Only lines that
// look like declarations are parsed, each chunk on its own, so syntax the
// grammar cannot handle elsewhere in the file never affects the result.
// Malformed declarations contribute nothing.
func (s *Scanner) Scan(source string, flavor Flavor) []ModuleReference {
	start := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues(string(flavor)).Observe(time.Since(start).Seconds())
	}()

	var refs []ModuleReference
	for _, c := range declarationChunks(source) {
		found := s.parseChunk(c, flavor)
		for _, ref := range found {
			observability.ReferencesScannedTotal.WithLabelValues(string(ref.Kind)).Inc()
		}
		refs = append(refs, found...)
	}
	return refs
}

// ParseStatement parses one physical line in isolation. It succeeds only
// when the line is exactly one import or require statement yielding exactly
// one reference, optionally followed by comments, which are returned as
// trailing.
func (s *Scanner) ParseStatement(line string, flavor Flavor) (ModuleReference, string, bool) {
	if !looksLikeDeclaration(line) {
		return ModuleReference{}, "", false
	}

	source := []byte(line)
	sp := s.pool(flavor).Get()
	defer s.pool(flavor).Put(sp)

	tree := sp.Parse(source, nil)
	if tree == nil {
		return ModuleReference{}, "", false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return ModuleReference{}, "", false
	}

	var statement *sitter.Node
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child.Kind() == "comment" {
			if statement == nil {
				return ModuleReference{}, "", false
			}
			continue
		}
		if statement != nil {
			return ModuleReference{}, "", false
		}
		statement = child
	}
	if statement == nil {
		return ModuleReference{}, "", false
	}

	ctx := &ExtractionContext{Source: source}
	s.engine.Walk(ctx, statement)
	if len(ctx.References) != 1 {
		return ModuleReference{}, "", false
	}
	trailing := strings.TrimSpace(line[statement.EndByte():])
	return ctx.References[0], trailing, true
}

// parseChunk walks the chunk's top-level statements. Once the parser hits
// an error the rest of the chunk is dropped: a statement recovered after
// an error is a fragment of something larger, and its shape cannot be
// trusted.
func (s *Scanner) parseChunk(c chunk, flavor Flavor) []ModuleReference {
	source := []byte(c.text)
	sp := s.pool(flavor).Get()
	defer s.pool(flavor).Put(sp)

	tree := sp.Parse(source, nil)
	if tree == nil {
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.IsError() {
		return nil
	}
	ctx := &ExtractionContext{Source: source, LineOffset: c.startLine}
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child.IsError() || child.IsMissing() {
			break
		}
		if child.HasError() {
			continue
		}
		s.engine.Walk(ctx, child)
	}
	return ctx.References
}

func (s *Scanner) pool(flavor Flavor) *ParserPool {
	if p, ok := s.pools[flavor]; ok {
		return p
	}
	return s.pools[FlavorPlain]
}

func looksLikeDeclaration(line string) bool {
	return importStartPattern.MatchString(line) || requireCallPattern.MatchString(line)
}

// declarationChunks picks the lines worth parsing. Multi-line `import {`
// and `const {` blocks are kept whole; a block that reaches another
// declaration before closing is cut there, so a malformed opener never
// swallows the statements after it.
func declarationChunks(source string) []chunk {
	lines := strings.Split(source, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	var chunks []chunk
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if opensImportBlock(line) || opensPatternBlock(line) {
			end := blockEnd(lines, i)
			block := strings.Join(lines[i:end+1], "\n")
			if looksLikeDeclaration(block) {
				chunks = append(chunks, chunk{text: block, startLine: i})
			}
			i = end
			continue
		}
		if looksLikeDeclaration(line) {
			chunks = append(chunks, chunk{text: line, startLine: i})
		}
	}
	return chunks
}

// blockEnd returns the index of the line closing the block opened at
// start, or the line before the next declaration if that comes first.
func blockEnd(lines []string, start int) int {
	end := start
	for end+1 < len(lines) && end-start < maxBlockLines {
		next := lines[end+1]
		if strings.Contains(next, "}") {
			return end + 1
		}
		if looksLikeDeclaration(next) || opensImportBlock(next) || opensPatternBlock(next) {
			return end
		}
		end++
	}
	return end
}

func opensImportBlock(line string) bool {
	if !importStartPattern.MatchString(line) {
		return false
	}
	return strings.Contains(line, "{") && !strings.Contains(line, "}") && !fromClausePattern.MatchString(line)
}

func opensPatternBlock(line string) bool {
	return patternStartPattern.MatchString(line) && !requireCallPattern.MatchString(line)
}

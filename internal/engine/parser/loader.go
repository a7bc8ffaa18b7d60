package parser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// grammarFor returns the tree-sitter language used for a flavor. Declaration
// chunks never contain JSX, so TSX sources share the TypeScript grammar.
func grammarFor(flavor Flavor) *sitter.Language {
	if flavor == FlavorTyped {
		return sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	}
	return sitter.NewLanguage(tree_sitter_javascript.Language())
}

package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

func declarationHandlers() map[string]NodeHandler {
	return map[string]NodeHandler{
		"import_statement":     extractImport,
		"lexical_declaration":  extractRequireDeclaration,
		"variable_declaration": extractRequireDeclaration,
		"expression_statement": extractBareRequire,
	}
}

func extractImport(ctx *ExtractionContext, node *sitter.Node) bool {
	if node.HasError() {
		return true
	}

	ref := ModuleReference{Kind: KindImport, Line: ctx.Line(node)}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		switch child.Kind() {
		case "type", "typeof":
			// type-only imports are erased at compile time
			return true
		case "import_clause":
			if !collectImportClause(ctx, child, &ref) {
				return true
			}
		case "import_require_clause":
			for j := uint(0); j < child.NamedChildCount(); j++ {
				part := child.NamedChild(j)
				switch part.Kind() {
				case "identifier":
					ref.Locals = append(ref.Locals, ctx.Text(part))
				case "string":
					ref.Specifier = trimQuoted(ctx.Text(part))
				}
			}
		}
	}

	if source := node.ChildByFieldName("source"); source != nil {
		ref.Specifier = trimQuoted(ctx.Text(source))
	}
	if ref.Specifier == "" {
		return true
	}
	ctx.add(ref)
	return true
}

func collectImportClause(ctx *ExtractionContext, clause *sitter.Node, ref *ModuleReference) bool {
	for i := uint(0); i < clause.NamedChildCount(); i++ {
		child := clause.NamedChild(i)
		switch child.Kind() {
		case "identifier":
			ref.Locals = append(ref.Locals, ctx.Text(child))
		case "namespace_import":
			for j := uint(0); j < child.NamedChildCount(); j++ {
				if id := child.NamedChild(j); id.Kind() == "identifier" {
					ref.Locals = append(ref.Locals, ctx.Text(id))
				}
			}
		case "named_imports":
			typeOnly := 0
			for j := uint(0); j < child.NamedChildCount(); j++ {
				spec := child.NamedChild(j)
				if spec.Kind() != "import_specifier" {
					continue
				}
				if isTypeOnlySpecifier(spec) {
					typeOnly++
					continue
				}
				name := trimQuoted(ctx.Text(spec.ChildByFieldName("name")))
				if name == "" {
					return false
				}
				alias := ctx.Text(spec.ChildByFieldName("alias"))
				if alias == name {
					alias = ""
				}
				ref.Named = append(ref.Named, NamedBinding{Name: name, Alias: alias})
			}
			// `import { type A } from 'x'` is erased entirely.
			if typeOnly > 0 && len(ref.Named) == 0 && len(ref.Locals) == 0 {
				return false
			}
		}
	}
	return true
}

// isTypeOnlySpecifier reports an inline `type` modifier, as in
// `import { type A, B } from 'x'`.
func isTypeOnlySpecifier(spec *sitter.Node) bool {
	for i := uint(0); i < spec.ChildCount(); i++ {
		child := spec.Child(i)
		if child.Kind() == "type" || child.Kind() == "typeof" {
			return spec.ChildByFieldName("name") != nil && child.StartByte() < spec.ChildByFieldName("name").StartByte()
		}
	}
	return false
}

func extractRequireDeclaration(ctx *ExtractionContext, node *sitter.Node) bool {
	if node.HasError() {
		return true
	}

	for i := uint(0); i < node.NamedChildCount(); i++ {
		declarator := node.NamedChild(i)
		if declarator.Kind() != "variable_declarator" {
			continue
		}
		specifier, ok := requireSpecifier(ctx, declarator.ChildByFieldName("value"))
		if !ok {
			continue
		}

		ref := ModuleReference{Kind: KindRequire, Specifier: specifier, Line: ctx.Line(declarator)}
		pattern := declarator.ChildByFieldName("name")
		if pattern == nil {
			continue
		}
		switch pattern.Kind() {
		case "identifier":
			ref.Locals = append(ref.Locals, ctx.Text(pattern))
		case "object_pattern":
			named, ok := objectPatternBindings(ctx, pattern)
			if !ok {
				continue
			}
			ref.Named = named
		default:
			continue
		}
		ctx.add(ref)
	}
	return true
}

// objectPatternBindings supports shorthand and `key: identifier` entries only.
// Defaults, rest elements and nested patterns make the declaration opaque.
func objectPatternBindings(ctx *ExtractionContext, pattern *sitter.Node) ([]NamedBinding, bool) {
	var named []NamedBinding
	for i := uint(0); i < pattern.NamedChildCount(); i++ {
		entry := pattern.NamedChild(i)
		switch entry.Kind() {
		case "shorthand_property_identifier_pattern":
			named = append(named, NamedBinding{Name: ctx.Text(entry)})
		case "pair_pattern":
			key := entry.ChildByFieldName("key")
			value := entry.ChildByFieldName("value")
			if key == nil || value == nil || value.Kind() != "identifier" {
				return nil, false
			}
			name := trimQuoted(ctx.Text(key))
			alias := ctx.Text(value)
			if alias == name {
				alias = ""
			}
			named = append(named, NamedBinding{Name: name, Alias: alias})
		case "comment":
		default:
			return nil, false
		}
	}
	return named, true
}

func extractBareRequire(ctx *ExtractionContext, node *sitter.Node) bool {
	if node.HasError() {
		return true
	}
	expr := node.NamedChild(0)
	if specifier, ok := requireSpecifier(ctx, expr); ok {
		ctx.add(ModuleReference{Kind: KindRequire, Specifier: specifier, Line: ctx.Line(node)})
	}
	return true
}

// requireSpecifier matches `require('literal')`. Computed specifiers are
// rejected.
func requireSpecifier(ctx *ExtractionContext, node *sitter.Node) (string, bool) {
	if node == nil || node.Kind() != "call_expression" {
		return "", false
	}
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Kind() != "identifier" || ctx.Text(fn) != "require" {
		return "", false
	}
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return "", false
	}
	first := args.NamedChild(0)
	if first.Kind() != "string" {
		return "", false
	}
	specifier := trimQuoted(ctx.Text(first))
	return specifier, specifier != ""
}

func trimQuoted(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'' || first == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

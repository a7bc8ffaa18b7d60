package parser

import (
	"path/filepath"
	"strings"
)

// Flavor selects the grammar used for scanning and the binding syntax emitted
// by the rewriter.
type Flavor string

const (
	FlavorPlain Flavor = "plain"
	FlavorTyped Flavor = "typed"
)

// DetectFlavor picks a flavor from the source file extension.
func DetectFlavor(path string) Flavor {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts", ".tsx":
		return FlavorTyped
	default:
		return FlavorPlain
	}
}

type ReferenceKind string

const (
	KindImport  ReferenceKind = "import"
	KindRequire ReferenceKind = "require"
)

// NamedBinding is one `{ name as alias }` entry. Alias is empty when the
// local name equals the imported name.
type NamedBinding struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// Local returns the identifier the binding introduces in module scope.
func (b NamedBinding) Local() string {
	if b.Alias != "" {
		return b.Alias
	}
	return b.Name
}

// ModuleReference is a single import or require declaration.
type ModuleReference struct {
	Kind      ReferenceKind  `json:"kind"`
	Named     []NamedBinding `json:"named,omitempty"`
	Locals    []string       `json:"locals,omitempty"`
	Specifier string         `json:"specifier"`
	Line      int            `json:"line"`
}

// ImportedNames returns the ordered named binding identifiers.
func (r ModuleReference) ImportedNames() []string {
	names := make([]string, 0, len(r.Named))
	for _, b := range r.Named {
		names = append(names, b.Name)
	}
	return names
}

// IsBare reports whether the declaration binds nothing (`import 'x'`).
func (r ModuleReference) IsBare() bool {
	return len(r.Named) == 0 && len(r.Locals) == 0
}

// SameShape compares specifier and ordered binding names. Kind and Line are
// ignored.
func (r ModuleReference) SameShape(other ModuleReference) bool {
	if r.Specifier != other.Specifier {
		return false
	}
	if len(r.Named) != len(other.Named) || len(r.Locals) != len(other.Locals) {
		return false
	}
	for i := range r.Named {
		if r.Named[i] != other.Named[i] {
			return false
		}
	}
	for i := range r.Locals {
		if r.Locals[i] != other.Locals[i] {
			return false
		}
	}
	return true
}

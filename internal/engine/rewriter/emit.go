package rewriter

import (
	"strconv"
	"strings"
	"unicode"

	"omniworker/internal/engine/parser"
)

// emit renders the load statements for ref. All statements share one
// physical line so line numbers stay stable.
func emit(ref parser.ModuleReference, binaryPath string, flavor parser.Flavor) string {
	load := loadExpression(binaryPath, ref.Specifier, flavor)

	var statements []string
	if len(ref.Named) > 0 {
		fields := make([]string, 0, len(ref.Named))
		for _, b := range ref.Named {
			if b.Alias != "" {
				fields = append(fields, b.Name+": "+b.Alias)
			} else {
				fields = append(fields, b.Name)
			}
		}
		statements = append(statements, "const { "+strings.Join(fields, ", ")+" } = "+load+";")
	}
	for _, local := range ref.Locals {
		statements = append(statements, "const "+local+" = "+load+";")
	}
	if ref.IsBare() {
		statements = append(statements, "const "+identifierFor(ref.Specifier)+" = "+load+";")
	}
	return strings.Join(statements, " ")
}

func loadExpression(binaryPath, specifier string, flavor parser.Flavor) string {
	expr := "require(" + strconv.Quote(binaryPath) + ")"
	if flavor == parser.FlavorTyped {
		expr += " as typeof import(" + strconv.Quote(specifier) + ")"
	}
	return expr
}

// identifierFor turns a package specifier into a valid binding name.
func identifierFor(specifier string) string {
	var b strings.Builder
	for i, r := range specifier {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

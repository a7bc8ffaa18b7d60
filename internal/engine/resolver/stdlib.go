package resolver

import (
	_ "embed"
	"strings"
)

//go:embed stdlib/node.txt
var nodeBuiltinData string

var nodeBuiltins = map[string]bool{}

func init() {
	for _, line := range strings.Split(nodeBuiltinData, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		nodeBuiltins[line] = true
	}
}

// IsNodeBuiltin reports whether specifier names a Node.js core module.
func IsNodeBuiltin(specifier string) bool {
	if strings.HasPrefix(specifier, "node:") {
		return true
	}
	return nodeBuiltins[specifier]
}

// IsPackageSpecifier reports whether specifier refers to an installed
// package rather than a relative path, an absolute path or a builtin.
func IsPackageSpecifier(specifier string) bool {
	specifier = strings.TrimSpace(specifier)
	if specifier == "" || IsNodeBuiltin(specifier) {
		return false
	}
	if strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") || strings.HasPrefix(specifier, "\\") {
		return false
	}
	if len(specifier) >= 2 && specifier[1] == ':' {
		// windows drive path
		return false
	}
	return true
}

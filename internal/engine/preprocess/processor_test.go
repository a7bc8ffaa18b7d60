package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"omniworker/internal/engine/parser"
	"omniworker/internal/engine/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newProcessor(roots ...string) *Processor {
	return New(parser.NewScanner(), resolver.NewClassifier(resolver.NewLocator(0), roots))
}

func TestProcessSource_RewritesSingleBinaryDependency(t *testing.T) {
	modules := t.TempDir()
	addon := filepath.Join(modules, "fastmath", "build", "Release", "fastmath.node")
	writeFile(t, addon, "\x7fELF")
	writeFile(t, filepath.Join(modules, "fastmath", "index.js"), "module.exports = require('./build/Release/fastmath.node');")
	writeFile(t, filepath.Join(modules, "lodash", "index.js"), "module.exports = {};")

	source := strings.Join([]string{
		`import { multiply } from "fastmath";`,
		`import lodash from "lodash";`,
		`export function run(a, b) { return multiply(a, b); }`,
	}, "\n")

	result := newProcessor(modules).ProcessSource(context.Background(), "worker.js", source)

	require.Len(t, result.References, 2)
	require.Len(t, result.Classified, 1)
	assert.Equal(t, addon, result.Classified[0].BinaryPath)
	assert.Equal(t, []int{1}, result.Rewritten)
	assert.Equal(t, []string{addon}, result.NativeBinaries())

	lines := strings.Split(result.Output, "\n")
	assert.Equal(t, `const { multiply } = require("`+addon+`");`, lines[0])
	assert.Equal(t, `import lodash from "lodash";`, lines[1], "zero binary matches leaves the import untouched")
	assert.Equal(t, source, result.Input)
}

func TestProcessSource_AmbiguousBinaryLeftAlone(t *testing.T) {
	modules := t.TempDir()
	writeFile(t, filepath.Join(modules, "dual", "prebuilds", "a.node"), "x")
	writeFile(t, filepath.Join(modules, "dual", "build", "b.node"), "x")

	source := `const dual = require("dual");`
	result := newProcessor(modules).ProcessSource(context.Background(), "worker.js", source)

	assert.Len(t, result.References, 1)
	assert.Empty(t, result.Classified)
	assert.Equal(t, source, result.Output)
}

func TestProcessFile_TypedFlavor(t *testing.T) {
	modules := t.TempDir()
	addon := filepath.Join(modules, "native", "native.node")
	writeFile(t, addon, "x")

	dir := t.TempDir()
	path := filepath.Join(dir, "worker.ts")
	writeFile(t, path, "import native from 'native';\nexport const f = (x: number) => native.f(x);\n")

	result, err := newProcessor(modules).ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, parser.FlavorTyped, result.Flavor)
	assert.True(t, strings.HasPrefix(result.Output, `const native = require("`+addon+`") as typeof import("native");`))

	_, err = newProcessor(modules).ProcessFile(context.Background(), filepath.Join(dir, "missing.ts"))
	assert.Error(t, err)
}

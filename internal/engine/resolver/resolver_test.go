package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"omniworker/internal/engine/parser"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("bin"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocator_FindsBinariesAtAnyDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "single", "build", "Release", "single.node"))
	writeFile(t, filepath.Join(root, "single", "index.js"))
	writeFile(t, filepath.Join(root, "double", "prebuilds", "linux-x64", "double.node"))
	writeFile(t, filepath.Join(root, "double", "build", "Release", "double.node"))
	writeFile(t, filepath.Join(root, "plain", "index.js"))

	locator := NewLocator(8)

	single := locator.Locate("single", []string{root})
	if len(single) != 1 {
		t.Fatalf("expected one match, got %+v", single)
	}
	want := filepath.Join(root, "single", "build", "Release", "single.node")
	if single[0].Path != want || single[0].Package != "single" {
		t.Errorf("unexpected match %+v", single[0])
	}

	if got := locator.Locate("double", []string{root}); len(got) != 2 {
		t.Errorf("expected two matches, got %+v", got)
	}
	if got := locator.Locate("plain", []string{root}); len(got) != 0 {
		t.Errorf("expected no matches, got %+v", got)
	}
}

func TestLocator_MissingRootsAreIndependent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "addon", "addon.node"))

	roots := []string{filepath.Join(root, "does-not-exist"), "", root}
	got := NewLocator(0).Locate("addon", roots)
	if len(got) != 1 {
		t.Fatalf("expected the valid root to still match, got %+v", got)
	}
}

func TestLocator_IgnoresNonPackageSpecifiers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "fs", "fs.node"))
	writeFile(t, filepath.Join(root, "local", "local.node"))

	locator := NewLocator(0)
	for _, spec := range []string{"fs", "node:fs", "./local", "../local", "/abs/local", ""} {
		if got := locator.Locate(spec, []string{root}); len(got) != 0 {
			t.Errorf("expected %q to be skipped, got %+v", spec, got)
		}
	}
}

func TestLocator_ScopedPackageAndCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "@scope", "native", "lib", "binding.node"))

	locator := NewLocator(4)
	first := locator.Locate("@scope/native", []string{root})
	if len(first) != 1 {
		t.Fatalf("expected scoped package match, got %+v", first)
	}

	writeFile(t, filepath.Join(root, "@scope", "native", "lib", "second.node"))
	if cached := locator.Locate("@scope/native", []string{root}); len(cached) != 1 {
		t.Errorf("expected cached result, got %+v", cached)
	}

	locator.Reset()
	if fresh := locator.Locate("@scope/native", []string{root}); len(fresh) != 2 {
		t.Errorf("expected fresh walk after reset, got %+v", fresh)
	}
}

func TestClassifier_ExactlyOneMatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "single", "build", "single.node"))
	writeFile(t, filepath.Join(root, "double", "a", "one.node"))
	writeFile(t, filepath.Join(root, "double", "b", "two.node"))

	refs := []parser.ModuleReference{
		{Kind: parser.KindImport, Specifier: "single", Locals: []string{"single"}, Line: 1},
		{Kind: parser.KindImport, Specifier: "double", Locals: []string{"double"}, Line: 2},
		{Kind: parser.KindRequire, Specifier: "missing", Line: 3},
		{Kind: parser.KindRequire, Specifier: "single", Named: []parser.NamedBinding{{Name: "run"}}, Line: 4},
	}

	classified := NewClassifier(NewLocator(0), []string{root}).Classify(refs)
	if len(classified) != 2 {
		t.Fatalf("expected two classified references, got %+v", classified)
	}
	for _, c := range classified {
		if c.Specifier != "single" {
			t.Errorf("unexpected classified specifier %q", c.Specifier)
		}
		if !c.DependsOnNativeBinary {
			t.Error("expected dependsOnNativeBinary")
		}
		if c.IsNativeBinaryModule {
			t.Error("specifier does not end in .node")
		}
		if c.BinaryPath != filepath.Join(root, "single", "build", "single.node") {
			t.Errorf("unexpected binary path %q", c.BinaryPath)
		}
	}
	if classified[0].Line != 1 || classified[1].Line != 4 {
		t.Error("expected classification to keep source order")
	}
}

func TestSearchRoots(t *testing.T) {
	cwd := filepath.FromSlash("/work/app")
	extra := filepath.FromSlash("/opt/node") + string(os.PathListSeparator) + filepath.FromSlash("/work/app/node_modules")

	roots := SearchRoots(cwd, "", extra, "", "vendor")
	want := []string{
		filepath.FromSlash("/work/app/node_modules"),
		filepath.FromSlash("/opt/node"),
		filepath.FromSlash("/work/app/vendor"),
	}
	if len(roots) != len(want) {
		t.Fatalf("expected %v, got %v", want, roots)
	}
	for i := range want {
		if roots[i] != want[i] {
			t.Errorf("root %d: expected %s, got %s", i, want[i], roots[i])
		}
	}
}

package worker

import (
	"os"

	"omniworker/internal/core/ports"
	"omniworker/internal/engine/bundler"
	"omniworker/internal/engine/parser"
	"omniworker/internal/engine/preprocess"
	"omniworker/internal/engine/resolver"
	"omniworker/internal/engine/rpc"
	"omniworker/internal/engine/sandbox/embedded"
)

// BuildConfig carries everything a build needs. It is passed per call; nil
// fields fall back to defaults in withDefaults.
type BuildConfig struct {
	SearchRoots []string
	Scanner     *parser.Scanner
	Locator     *resolver.Locator
	Bundler     ports.Bundler
	Launcher    ports.Launcher
	Contract    rpc.Contract
	Recorder    ports.BuildRecorder
}

func (c BuildConfig) withDefaults() BuildConfig {
	if c.SearchRoots == nil {
		cwd, _ := os.Getwd()
		c.SearchRoots = resolver.SearchRoots(cwd, resolver.DefaultModuleRoot, resolver.EnvSearchPath(""))
	}
	if c.Scanner == nil {
		c.Scanner = parser.NewScanner()
	}
	if c.Locator == nil {
		c.Locator = resolver.NewLocator(0)
	}
	if c.Bundler == nil {
		c.Bundler = bundler.NewESBuild()
	}
	if c.Launcher == nil {
		c.Launcher = embedded.NewLauncher()
	}
	return c
}

func (c BuildConfig) processor() *preprocess.Processor {
	return preprocess.New(c.Scanner, resolver.NewClassifier(c.Locator, c.SearchRoots))
}

// externals lists the bare packages left unbundled for launchers that
// resolve them at load time.
func (c BuildConfig) externals(res *preprocess.Result) []string {
	if !c.Launcher.ResolvesExternals() {
		return nil
	}
	classified := make(map[string]bool, len(res.Classified))
	for _, ref := range res.Classified {
		classified[ref.Specifier] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, ref := range res.References {
		if !resolver.IsPackageSpecifier(ref.Specifier) || classified[ref.Specifier] || seen[ref.Specifier] {
			continue
		}
		seen[ref.Specifier] = true
		out = append(out, ref.Specifier)
	}
	return out
}

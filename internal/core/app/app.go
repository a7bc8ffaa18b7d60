// Package app wires configuration into the worker pipeline and owns the
// running pool.
package app

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"omniworker/internal/core/config"
	"omniworker/internal/core/errors"
	"omniworker/internal/core/ports"
	"omniworker/internal/core/watcher"
	"omniworker/internal/data/buildlog"
	"omniworker/internal/data/queue"
	"omniworker/internal/engine/bundler"
	"omniworker/internal/engine/parser"
	"omniworker/internal/engine/pool"
	"omniworker/internal/engine/preprocess"
	"omniworker/internal/engine/resolver"
	"omniworker/internal/engine/rpc"
	"omniworker/internal/engine/sandbox/embedded"
	"omniworker/internal/engine/sandbox/nodeproc"
	"omniworker/internal/engine/worker"
	"omniworker/internal/shared/observability"
	"omniworker/internal/shared/util"
)

type App struct {
	Config *config.Config

	cwd      string
	roots    []string
	scanner  *parser.Scanner
	locator  *resolver.Locator
	bundler  ports.Bundler
	launcher ports.Launcher
	ledger   *buildlog.Store
	records  *queue.RecordWriter

	// reloadMu serializes pool start, reload and stop.
	reloadMu   sync.Mutex
	sourcePath string
	current    atomic.Pointer[pool.Pool]

	activeWatcher *watcher.Watcher
	closeOnce     sync.Once
}

var _ ports.Dispatcher = (*App)(nil)

// BuildOutput is the result of writing an artifact to disk.
type BuildOutput struct {
	Path      string
	Artifact  *bundler.Artifact
	Processed *preprocess.Result
}

func New(cfg *config.Config, cwd string) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	roots := searchRoots(cfg, cwd)

	launcher, err := newLauncher(cfg, roots)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		cwd:      cwd,
		roots:    roots,
		scanner:  parser.NewScanner(),
		locator:  resolver.NewLocator(cfg.Build.LocatorCacheSize),
		bundler:  bundler.NewESBuild(),
		launcher: launcher,
	}

	if cfg.DB.Enabled {
		store, err := buildlog.Open(a.resolve(cfg.DB.Path), cfg.DB.BusyTimeout)
		if err != nil {
			return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "open build ledger"), errors.CtxPath, cfg.DB.Path)
		}
		a.ledger = store
		a.records = queue.NewRecordWriter(store, queue.DefaultWriterOptions())
	}

	slog.Debug("app initialized", "launcher", launcher.Name(), "roots", roots, "ledger", a.ledger != nil)
	return a, nil
}

func searchRoots(cfg *config.Config, cwd string) []string {
	extra := append([]string{resolver.EnvSearchPath(cfg.Build.NodePathEnv)}, cfg.Build.ExtraRoots...)
	return resolver.SearchRoots(cwd, cfg.Build.ModuleRoot, extra...)
}

func newLauncher(cfg *config.Config, roots []string) (ports.Launcher, error) {
	switch cfg.Runtime.Kind {
	case config.RuntimeEmbedded, "":
		return embedded.NewLauncher(), nil
	case config.RuntimeNode:
		if !nodeproc.Available(cfg.Runtime.NodeBinary) {
			return nil, errors.Newf(errors.CodeNotSupported, "runtime %q selected but %q was not found on PATH", config.RuntimeNode, cfg.Runtime.NodeBinary)
		}
		return nodeproc.NewLauncher(nodeproc.Options{
			Binary:       cfg.Runtime.NodeBinary,
			SearchRoots:  roots,
			StartTimeout: cfg.Runtime.StartTimeout,
			StopTimeout:  cfg.Runtime.StopTimeout,
		}), nil
	default:
		return nil, errors.Newf(errors.CodeValidationError, "unknown runtime kind %q", cfg.Runtime.Kind)
	}
}

func (a *App) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.cwd, path)
}

// SearchRoots returns the directories scanned for native binaries.
func (a *App) SearchRoots() []string {
	return append([]string(nil), a.roots...)
}

func (a *App) Launcher() ports.Launcher {
	return a.launcher
}

// BuildConfig is the per-call configuration handed to workers and pools.
func (a *App) BuildConfig() worker.BuildConfig {
	cfg := worker.BuildConfig{
		SearchRoots: a.roots,
		Scanner:     a.scanner,
		Locator:     a.locator,
		Bundler:     a.bundler,
		Launcher:    a.launcher,
		Contract:    rpc.Contract{Name: a.Config.Contract.Name, Functions: a.Config.Contract.Functions},
	}
	if a.records != nil {
		cfg.Recorder = a.records
	}
	return cfg
}

func (a *App) LaunchOptions() ports.LaunchOptions {
	return ports.LaunchOptions{
		ReplicaCount:      a.Config.Pool.Replicas,
		RebuildPerReplica: a.Config.Pool.RebuildPerReplica,
	}
}

// Preprocess scans, classifies and rewrites one module without bundling it.
func (a *App) Preprocess(ctx context.Context, path string) (*preprocess.Result, error) {
	proc := preprocess.New(a.scanner, resolver.NewClassifier(a.locator, a.roots))
	return proc.ProcessFile(ctx, a.resolve(path))
}

// BuildArtifact bundles path and writes the artifact next to it with ext,
// or the configured output extension when ext is empty. When the swapped
// name equals the source, ".bundle" is inserted before the extension.
func (a *App) BuildArtifact(ctx context.Context, path, ext string) (*BuildOutput, error) {
	if strings.TrimSpace(ext) == "" {
		ext = a.Config.Build.OutputExtension
	}

	artifact, res, err := worker.Compile(ctx, a.resolve(path), a.BuildConfig())
	if err != nil {
		return nil, err
	}

	out, err := bundler.OutputPath(res.Path, ext)
	if err != nil {
		return nil, err
	}
	if out == res.Path {
		out = strings.TrimSuffix(out, filepath.Ext(out)) + ".bundle" + filepath.Ext(out)
	}

	if err := util.WriteFileWithDirs(out, []byte(artifact.Text), 0o644); err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "write artifact"), errors.CtxPath, out)
	}
	slog.Info("artifact written", "path", out, "bytes", artifact.Size(), "hash", artifact.Hash)
	return &BuildOutput{Path: out, Artifact: artifact, Processed: res}, nil
}

// StartPool builds path and makes the resulting pool the dispatch target.
func (a *App) StartPool(ctx context.Context, path string) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if a.current.Load() != nil {
		return errors.New(errors.CodeConflict, "a worker pool is already running")
	}

	abs := a.resolve(path)
	p := pool.New(a.BuildConfig())
	if err := p.BuildAndLaunch(ctx, abs, a.LaunchOptions()); err != nil {
		return err
	}
	a.sourcePath = abs
	a.current.Store(p)
	return nil
}

// Use hands out the next replica of the running pool.
func (a *App) Use() (*rpc.Proxy, error) {
	p := a.current.Load()
	if p == nil {
		return nil, errors.New(errors.CodeUninitialized, "no worker pool is running")
	}
	return p.Use()
}

// Pool returns the running pool, nil before StartPool.
func (a *App) Pool() *pool.Pool {
	return a.current.Load()
}

func (a *App) SourcePath() string {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	return a.sourcePath
}

// Reload rebuilds the running module into a fresh pool, swaps it in, and
// destroys the old one. The old pool keeps serving if the rebuild fails.
func (a *App) Reload(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	return a.reloadLocked(ctx)
}

func (a *App) reloadLocked(ctx context.Context) error {
	old := a.current.Load()
	if old == nil {
		return errors.New(errors.CodeUninitialized, "no worker pool is running")
	}

	// Installed addons may have changed since the last walk.
	a.locator.Reset()

	next := pool.New(a.BuildConfig())
	if err := next.BuildAndLaunch(ctx, a.sourcePath, a.LaunchOptions()); err != nil {
		observability.ReloadsTotal.WithLabelValues("failure").Inc()
		slog.Warn("reload failed, keeping previous pool", "path", a.sourcePath, "error", err)
		return err
	}

	a.current.Store(next)
	observability.ReloadsTotal.WithLabelValues("success").Inc()
	slog.Info("worker pool reloaded", "path", a.sourcePath, "replicas", a.Config.Pool.Replicas)

	if err := old.Destroy(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("failed to destroy previous pool", "error", err)
	}
	return nil
}

// ApplyConfig adopts the pool and contract sections of cfg and reloads the
// running pool. Runtime and build sections need a restart.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if cfg.Runtime.Kind != a.Config.Runtime.Kind || cfg.Build.ModuleRoot != a.Config.Build.ModuleRoot {
		slog.Warn("runtime and build changes take effect after restart")
	}
	next := *a.Config
	next.Pool = cfg.Pool
	next.Contract = cfg.Contract
	a.Config = &next

	if a.current.Load() == nil {
		return nil
	}
	return a.reloadLocked(ctx)
}

// StopPool destroys the running pool, if any.
func (a *App) StopPool(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	p := a.current.Swap(nil)
	if p == nil {
		return nil
	}
	return p.Destroy(ctx)
}

// History returns the newest builds of path and their summary.
func (a *App) History(ctx context.Context, path string, limit int) ([]buildlog.Entry, buildlog.Summary, error) {
	if a.ledger == nil {
		return nil, buildlog.Summary{}, errors.New(errors.CodeNotSupported, "build ledger is disabled (db.enabled = false)")
	}
	a.records.Flush()
	abs := a.resolve(path)
	entries, err := a.ledger.Recent(ctx, abs, limit)
	if err != nil {
		return nil, buildlog.Summary{}, err
	}
	return entries, buildlog.Summarize(abs, entries), nil
}

// Close stops the watcher, the pool and the ledger. It is safe to call twice.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.activeWatcher != nil {
			if err := a.activeWatcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.StopPool(ctx); err != nil {
			errs = append(errs, err)
		}
		if a.records != nil {
			if err := a.records.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.ledger != nil {
			if err := a.ledger.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return stderrors.Join(errs...)
}

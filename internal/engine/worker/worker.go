// Package worker builds a JS/TS module into an artifact and runs it in one
// execution context behind an RPC proxy.
package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"omniworker/internal/core/errors"
	"omniworker/internal/core/ports"
	"omniworker/internal/engine/bundler"
	"omniworker/internal/engine/preprocess"
	"omniworker/internal/engine/rpc"
	"omniworker/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Worker is one live execution context. The zero value is a valid,
// uninitialized worker.
type Worker struct {
	mu         sync.RWMutex
	cfg        BuildConfig
	sourcePath string
	artifact   *bundler.Artifact
	processed  *preprocess.Result
	context    ports.ExecutionContext
	proxy      *rpc.Proxy
	destroyed  bool
}

// Build pre-processes, bundles and launches the module at sourcePath.
func Build(ctx context.Context, sourcePath string, cfg BuildConfig) (*Worker, error) {
	cfg = cfg.withDefaults()
	ctx, span := observability.Tracer.Start(ctx, "worker.Build", trace.WithAttributes(
		attribute.String("path", sourcePath),
		attribute.String("launcher", cfg.Launcher.Name()),
	))
	defer span.End()

	start := time.Now()
	w, err := build(ctx, sourcePath, cfg)
	if err != nil {
		span.RecordError(err)
		observability.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	observability.BuildsTotal.WithLabelValues("success").Inc()
	observability.BuildDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	w.record(ctx, time.Since(start))
	return w, nil
}

func build(ctx context.Context, sourcePath string, cfg BuildConfig) (*Worker, error) {
	artifact, res, err := compile(ctx, sourcePath, cfg)
	if err != nil {
		return nil, err
	}

	w, err := Launch(ctx, artifact, cfg)
	if err != nil {
		return nil, err
	}
	w.sourcePath = res.Path
	w.processed = res
	return w, nil
}

// Compile pre-processes and bundles the module at sourcePath without
// launching it.
func Compile(ctx context.Context, sourcePath string, cfg BuildConfig) (*bundler.Artifact, *preprocess.Result, error) {
	return compile(ctx, sourcePath, cfg.withDefaults())
}

func compile(ctx context.Context, sourcePath string, cfg BuildConfig) (*bundler.Artifact, *preprocess.Result, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "resolve worker path"), errors.CtxPath, sourcePath)
	}

	proc := cfg.processor()
	preStart := time.Now()
	res, err := proc.ProcessFile(ctx, abs)
	if err != nil {
		return nil, nil, err
	}
	observability.BuildDuration.WithLabelValues("preprocess").Observe(time.Since(preStart).Seconds())

	if natives := res.NativeBinaries(); len(natives) > 0 && cfg.Launcher.SharesProcess() {
		slog.Warn("native binaries are loaded once per process and will be shared by every replica",
			"path", abs, "launcher", cfg.Launcher.Name(), "binaries", natives)
	}

	artifact, err := cfg.Bundler.Bundle(ctx, bundler.Request{
		EntryPath:        abs,
		Source:           res.Output,
		Externals:        cfg.externals(res),
		ExternalPackages: cfg.Launcher.ResolvesExternals(),
		Transform:        proc.Transform(ctx),
	})
	if err != nil {
		return nil, nil, err
	}
	if artifact == nil {
		return nil, nil, errors.AddContext(errors.New(errors.CodeNoBuildOutput, "no build output for worker"), errors.CtxPath, abs)
	}
	return artifact, res, nil
}

// Launch starts a new context from an existing artifact and verifies the
// configured contract against its exports.
func Launch(ctx context.Context, artifact *bundler.Artifact, cfg BuildConfig) (*Worker, error) {
	cfg = cfg.withDefaults()
	if artifact == nil {
		return nil, errors.New(errors.CodeNoBuildOutput, "no build output for worker")
	}

	start := time.Now()
	ec, err := cfg.Launcher.Launch(ctx, artifact)
	if err != nil {
		return nil, err
	}
	observability.BuildDuration.WithLabelValues("launch").Observe(time.Since(start).Seconds())

	proxy := rpc.NewProxy(ec.ID(), ec)
	if err := cfg.Contract.Verify(proxy); err != nil {
		_ = ec.Terminate(context.WithoutCancel(ctx))
		return nil, errors.AddContext(err, errors.CtxPath, artifact.SourcePath)
	}

	return &Worker{
		cfg:        cfg,
		sourcePath: artifact.SourcePath,
		artifact:   artifact,
		context:    ec,
		proxy:      proxy,
	}, nil
}

// Clone returns exactly n new workers for the same module. With rebuild
// each clone gets its own artifact; otherwise all share this worker's.
func (w *Worker) Clone(ctx context.Context, n int, rebuild bool) ([]*Worker, error) {
	if n < 0 {
		return nil, errors.Newf(errors.CodeValidationError, "clone count must not be negative, got %d", n)
	}
	if !w.IsInitialized() {
		return nil, errors.New(errors.CodeUninitialized, "worker is not yet initialized")
	}

	w.mu.RLock()
	cfg, sourcePath, artifact, processed := w.cfg, w.sourcePath, w.artifact, w.processed
	w.mu.RUnlock()

	clones := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		var (
			clone *Worker
			err   error
		)
		if rebuild {
			clone, err = Build(ctx, sourcePath, cfg)
		} else {
			clone, err = Launch(ctx, artifact, cfg)
			if clone != nil {
				clone.sourcePath = sourcePath
				clone.processed = processed
			}
		}
		if err != nil {
			for _, c := range clones {
				_ = c.Destroy(context.WithoutCancel(ctx))
			}
			return nil, errors.AddContext(err, errors.CtxReplica, i)
		}
		clones = append(clones, clone)
	}
	return clones, nil
}

// Use returns the proxy of the running context.
func (w *Worker) Use() (*rpc.Proxy, error) {
	if w == nil {
		return nil, errors.New(errors.CodeUninitialized, "worker is not yet initialized")
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.proxy == nil || w.destroyed {
		return nil, errors.New(errors.CodeUninitialized, "worker is not yet initialized")
	}
	return w.proxy, nil
}

func (w *Worker) IsInitialized() bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.proxy != nil && !w.destroyed
}

// Destroy terminates the context. Calling it again is a no-op.
func (w *Worker) Destroy(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	ec := w.context
	w.destroyed = true
	w.mu.Unlock()
	if ec == nil {
		return nil
	}
	return ec.Terminate(ctx)
}

func (w *Worker) Terminated() bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.context != nil && w.context.Terminated()
}

func (w *Worker) ID() string {
	if w == nil || w.context == nil {
		return ""
	}
	return w.context.ID()
}

func (w *Worker) SourcePath() string {
	if w == nil {
		return ""
	}
	return w.sourcePath
}

func (w *Worker) Artifact() *bundler.Artifact {
	if w == nil {
		return nil
	}
	return w.artifact
}

// Preprocessed returns the scan and rewrite result of the entry module.
func (w *Worker) Preprocessed() *preprocess.Result {
	if w == nil {
		return nil
	}
	return w.processed
}

func (w *Worker) record(ctx context.Context, elapsed time.Duration) {
	if w.cfg.Recorder == nil {
		return
	}
	rec := ports.BuildRecord{
		WorkerID:      w.ID(),
		SourcePath:    w.sourcePath,
		ArtifactHash:  w.artifact.Hash,
		ArtifactBytes: w.artifact.Size(),
		Launcher:      w.cfg.Launcher.Name(),
		Duration:      elapsed,
		BuiltAt:       time.Now().UTC(),
	}
	if w.processed != nil {
		rec.References = len(w.processed.References)
		rec.Classified = len(w.processed.Classified)
		rec.RewrittenLines = len(w.processed.Rewritten)
	}
	if err := w.cfg.Recorder.RecordBuild(ctx, rec); err != nil {
		slog.Warn("failed to record build", "path", w.sourcePath, "error", err)
	}
}

// Package embedded runs worker artifacts inside an in-process goja runtime.
package embedded

import (
	"context"
	"encoding/json"
	"log/slog"

	"omniworker/internal/core/errors"
	"omniworker/internal/core/ports"
	"omniworker/internal/engine/bundler"
	"omniworker/internal/shared/observability"

	"github.com/dop251/goja"
)

const launcherName = "embedded"

// Launcher starts goja contexts. Each context has its own runtime, but all of
// them live in this process, so a native binary loaded by one replica would be
// shared by every replica.
type Launcher struct{}

var (
	_ ports.Launcher         = (*Launcher)(nil)
	_ ports.ExecutionContext = (*Context)(nil)
)

func NewLauncher() *Launcher {
	return &Launcher{}
}

func (l *Launcher) Name() string { return launcherName }

// ResolvesExternals reports false: the runtime has no module loader, so the
// bundle must inline every dependency.
func (l *Launcher) ResolvesExternals() bool { return false }

func (l *Launcher) SharesProcess() bool { return true }

func (l *Launcher) Launch(ctx context.Context, artifact *bundler.Artifact) (ports.ExecutionContext, error) {
	if artifact == nil || artifact.Text == "" {
		return nil, errors.New(errors.CodeNoBuildOutput, "no build output for worker")
	}

	ctx, span := observability.Tracer.Start(ctx, "embedded.Launch")
	defer span.End()

	c := newContext()
	_, err := c.submit(ctx, func(vm *goja.Runtime) (json.RawMessage, error) {
		return nil, c.load(vm, artifact)
	})
	if err != nil {
		span.RecordError(err)
		_ = c.Terminate(context.Background())
		if errors.CodeOf(err) == errors.CodeInternal {
			err = errors.Wrap(err, errors.CodeExecutionFailure, "failed to evaluate worker artifact")
		}
		return nil, errors.AddContext(err, errors.CtxPath, artifact.SourcePath)
	}

	slog.Debug("embedded context started", "context", c.id, "path", artifact.SourcePath, "exports", c.names)
	return c, nil
}

// Package nodeproc runs worker artifacts in node child processes, one
// process per execution context.
package nodeproc

import (
	"context"
	_ "embed"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"omniworker/internal/core/errors"
	"omniworker/internal/core/ports"
	"omniworker/internal/engine/bundler"
	"omniworker/internal/shared/observability"

	"github.com/google/uuid"
)

const launcherName = "node"

//go:embed harness.js
var harnessSource []byte

type Options struct {
	Binary       string
	SearchRoots  []string
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Launcher spawns node processes. Packages left outside the bundle are
// resolved by node through NODE_PATH, which is set to the search roots.
type Launcher struct {
	opts Options
}

var (
	_ ports.Launcher         = (*Launcher)(nil)
	_ ports.ExecutionContext = (*Context)(nil)
)

func NewLauncher(opts Options) *Launcher {
	if opts.Binary == "" {
		opts.Binary = "node"
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &Launcher{opts: opts}
}

// Available reports whether binary can be found on PATH.
func Available(binary string) bool {
	if binary == "" {
		binary = "node"
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

func (l *Launcher) Name() string { return launcherName }

func (l *Launcher) ResolvesExternals() bool { return true }

func (l *Launcher) SharesProcess() bool { return false }

func (l *Launcher) Launch(ctx context.Context, artifact *bundler.Artifact) (ports.ExecutionContext, error) {
	if artifact == nil || artifact.Text == "" {
		return nil, errors.New(errors.CodeNoBuildOutput, "no build output for worker")
	}

	ctx, span := observability.Tracer.Start(ctx, "nodeproc.Launch")
	defer span.End()

	c, err := l.start(artifact)
	if err != nil {
		span.RecordError(err)
		return nil, errors.AddContext(err, errors.CtxPath, artifact.SourcePath)
	}

	timer := time.NewTimer(l.opts.StartTimeout)
	defer timer.Stop()

	var failure error
	select {
	case f := <-c.ready:
		if f.Error != nil {
			failure = errors.New(errors.CodeExecutionFailure, "failed to evaluate worker artifact: "+*f.Error)
			break
		}
		c.order = f.Exports
		for _, name := range f.Exports {
			c.names[name] = struct{}{}
		}
	case <-c.exited:
		msg := "node process exited before becoming ready"
		if tail := c.stderrTail(); tail != "" {
			msg += ": " + tail
		}
		failure = errors.New(errors.CodeExecutionFailure, msg)
	case <-timer.C:
		failure = errors.Newf(errors.CodeExecutionFailure, "node process not ready after %s", l.opts.StartTimeout)
	case <-ctx.Done():
		failure = ctx.Err()
	}

	if failure != nil {
		span.RecordError(failure)
		_ = c.Terminate(context.Background())
		failure = errors.AddContext(failure, errors.CtxContext, c.id)
		return nil, errors.AddContext(failure, errors.CtxPath, artifact.SourcePath)
	}

	slog.Debug("node context started", "context", c.id, "pid", c.cmd.Process.Pid, "path", artifact.SourcePath, "exports", c.order)
	return c, nil
}

func (l *Launcher) start(artifact *bundler.Artifact) (*Context, error) {
	dir, err := os.MkdirTemp("", "omniworker-")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create context directory")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	harnessPath := filepath.Join(dir, "harness.js")
	artifactPath := filepath.Join(dir, "worker.js")
	if err := os.WriteFile(harnessPath, harnessSource, 0o600); err != nil {
		cleanup()
		return nil, errors.Wrap(err, errors.CodeInternal, "write harness")
	}
	if err := os.WriteFile(artifactPath, []byte(artifact.Text), 0o600); err != nil {
		cleanup()
		return nil, errors.Wrap(err, errors.CodeInternal, "write artifact")
	}

	cmd := exec.Command(l.opts.Binary, harnessPath, artifactPath)
	if artifact.SourcePath != "" {
		cmd.Dir = filepath.Dir(artifact.SourcePath)
	}
	cmd.Env = append(os.Environ(), "NODE_PATH="+strings.Join(l.opts.SearchRoots, string(os.PathListSeparator)))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, errors.CodeInternal, "open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, errors.CodeInternal, "open stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, errors.CodeInternal, "open stderr")
	}
	frameReader, frameWriter, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, errors.CodeInternal, "open frame pipe")
	}
	cmd.ExtraFiles = []*os.File{frameWriter}

	if err := cmd.Start(); err != nil {
		_ = frameReader.Close()
		_ = frameWriter.Close()
		cleanup()
		return nil, errors.Wrap(err, errors.CodeExecutionFailure, "start node process")
	}
	_ = frameWriter.Close()

	c := &Context{
		id:          uuid.NewString(),
		dir:         dir,
		cmd:         cmd,
		stdin:       stdin,
		stopTimeout: l.opts.StopTimeout,
		names:       make(map[string]struct{}),
		ready:       make(chan frame, 1),
		pending:     make(map[int64]chan frame),
		exited:      make(chan struct{}),
	}
	observability.ContextsActive.WithLabelValues(launcherName).Inc()

	var streams sync.WaitGroup
	streams.Add(3)
	go func() { defer streams.Done(); c.readFrames(frameReader) }()
	go func() { defer streams.Done(); c.logStream(stdout, slog.LevelInfo, "stdout") }()
	go func() { defer streams.Done(); c.logStream(stderr, slog.LevelWarn, "stderr") }()
	go c.wait(&streams)

	return c, nil
}

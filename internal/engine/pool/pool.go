// Package pool runs N replicas of one worker and hands them out round-robin.
package pool

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"omniworker/internal/core/errors"
	"omniworker/internal/core/ports"
	"omniworker/internal/engine/rpc"
	"omniworker/internal/engine/worker"
	"omniworker/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Pool owns a fixed set of replicas. Selection is guarded by mu, so strict
// round-robin order holds for consecutive Use calls.
type Pool struct {
	cfg worker.BuildConfig

	mu      sync.Mutex
	state   State
	handles []*worker.Worker
	cursor  int
}

var _ ports.WorkerPool = (*Pool)(nil)

func New(cfg worker.BuildConfig) *Pool {
	return &Pool{cfg: cfg, cursor: -1}
}

// BuildAndLaunch builds sourcePath and starts opts.ReplicaCount replicas.
// Replicas share one artifact unless opts.RebuildPerReplica is set.
func (p *Pool) BuildAndLaunch(ctx context.Context, sourcePath string, opts ports.LaunchOptions) error {
	if err := validateOptions(opts); err != nil {
		return err
	}
	if err := p.begin(); err != nil {
		return err
	}

	ctx, span := observability.Tracer.Start(ctx, "pool.BuildAndLaunch", trace.WithAttributes(
		attribute.String("path", sourcePath),
		attribute.Int("replicas", opts.ReplicaCount),
		attribute.Bool("rebuild_per_replica", opts.RebuildPerReplica),
	))
	defer span.End()

	handles, err := p.spawn(ctx, sourcePath, opts)
	if err != nil {
		span.RecordError(err)
		p.abort()
		return err
	}
	if !p.commit(handles) {
		destroyAll(context.WithoutCancel(ctx), handles)
		return errors.New(errors.CodeConflict, "pool was destroyed while initializing")
	}
	slog.Info("worker pool ready", "path", sourcePath, "replicas", len(handles), "rebuild_per_replica", opts.RebuildPerReplica)
	return nil
}

// Launch adopts an already built worker as replica 0 and clones the rest
// from it. The pool owns w afterwards.
func (p *Pool) Launch(ctx context.Context, w *worker.Worker, opts ports.LaunchOptions) error {
	if err := validateOptions(opts); err != nil {
		return err
	}
	if !w.IsInitialized() {
		return errors.New(errors.CodeUninitialized, "worker is not yet initialized")
	}
	if err := p.begin(); err != nil {
		return err
	}

	clones, err := w.Clone(ctx, opts.ReplicaCount-1, opts.RebuildPerReplica)
	if err != nil {
		p.abort()
		return err
	}
	handles := append([]*worker.Worker{w}, clones...)
	if !p.commit(handles) {
		destroyAll(context.WithoutCancel(ctx), handles)
		return errors.New(errors.CodeConflict, "pool was destroyed while initializing")
	}
	return nil
}

func (p *Pool) spawn(ctx context.Context, sourcePath string, opts ports.LaunchOptions) ([]*worker.Worker, error) {
	handles := make([]*worker.Worker, opts.ReplicaCount)

	if !opts.RebuildPerReplica {
		first, err := worker.Build(ctx, sourcePath, p.cfg)
		if err != nil {
			return nil, err
		}
		handles[0] = first
		if opts.ReplicaCount == 1 {
			return handles, nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range handles {
		if handles[i] != nil {
			continue
		}
		i := i
		g.Go(func() error {
			var (
				w   *worker.Worker
				err error
			)
			if opts.RebuildPerReplica {
				w, err = worker.Build(gctx, sourcePath, p.cfg)
			} else {
				w, err = worker.Launch(gctx, handles[0].Artifact(), p.cfg)
			}
			if err != nil {
				return errors.AddContext(err, errors.CtxReplica, i)
			}
			handles[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		destroyAll(context.WithoutCancel(ctx), handles)
		return nil, err
	}
	return handles, nil
}

// Use returns the next replica's proxy: the first call and the call after
// the last index both land on replica 0.
func (p *Pool) Use() (*rpc.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateReady {
		return nil, p.uninitialized()
	}
	if p.cursor == -1 || p.cursor == len(p.handles)-1 {
		p.cursor = 0
	} else {
		p.cursor++
	}
	observability.PoolDispatchTotal.WithLabelValues(strconv.Itoa(p.cursor)).Inc()
	return p.handles[p.cursor].Use()
}

func (p *Pool) ReplicaCount() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return 0, p.uninitialized()
	}
	return len(p.handles), nil
}

// Destroy terminates every replica concurrently. The pool is destroyed even
// when a replica fails to stop; the first such error is returned.
func (p *Pool) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return nil
	}
	handles := p.handles
	p.handles = nil
	p.state = StateDestroyed
	p.cursor = -1
	p.mu.Unlock()

	observability.PoolReplicas.Sub(float64(len(handles)))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			if err := h.Destroy(gctx); err != nil {
				return errors.AddContext(err, errors.CtxReplica, i)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		slog.Warn("worker pool destroyed with errors", "replicas", len(handles), "error", err)
	} else {
		slog.Debug("worker pool destroyed", "replicas", len(handles))
	}
	return err
}

func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Handles returns the replicas in index order.
func (p *Pool) Handles() []*worker.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*worker.Worker(nil), p.handles...)
}

func (p *Pool) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateUninitialized {
		return errors.Newf(errors.CodeConflict, "pool is %s and cannot be built again", p.state)
	}
	p.state = StateInitializing
	return nil
}

// abort returns a failed build to Uninitialized so it can be retried.
func (p *Pool) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateInitializing {
		p.state = StateUninitialized
	}
}

// commit publishes handles unless the pool was destroyed meanwhile.
func (p *Pool) commit(handles []*worker.Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateInitializing {
		return false
	}
	p.handles = handles
	p.cursor = -1
	p.state = StateReady
	observability.PoolReplicas.Add(float64(len(handles)))
	return true
}

func (p *Pool) uninitialized() error {
	return errors.Newf(errors.CodeUninitialized, "pool is not initialized (state %s)", p.state)
}

func validateOptions(opts ports.LaunchOptions) error {
	if opts.ReplicaCount < 1 {
		return errors.Newf(errors.CodeValidationError, "number of replicas must be at least 1, got %d", opts.ReplicaCount)
	}
	return nil
}

func destroyAll(ctx context.Context, handles []*worker.Worker) {
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Destroy(ctx); err != nil {
			slog.Warn("failed to destroy partially launched replica", "worker", h.ID(), "error", err)
		}
	}
}

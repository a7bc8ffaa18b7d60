package ports

import (
	"context"
	"time"

	"omniworker/internal/engine/bundler"
	"omniworker/internal/engine/rpc"
)

// Bundler turns a pre-processed entry module into a loadable artifact.
type Bundler interface {
	Bundle(ctx context.Context, req bundler.Request) (*bundler.Artifact, error)
}

// ExecutionContext is one isolated, independently running interpreter.
type ExecutionContext interface {
	rpc.Caller
	ID() string
	Terminate(ctx context.Context) error
	Terminated() bool
}

// Launcher instantiates execution contexts from artifacts.
type Launcher interface {
	Name() string
	// ResolvesExternals reports whether contexts can load packages left
	// outside the bundle.
	ResolvesExternals() bool
	// SharesProcess reports whether contexts live in the controller's process.
	SharesProcess() bool
	Launch(ctx context.Context, artifact *bundler.Artifact) (ExecutionContext, error)
}

// BuildRecord is one ledger entry describing a finished build.
type BuildRecord struct {
	WorkerID       string
	SourcePath     string
	ArtifactHash   string
	ArtifactBytes  int
	References     int
	Classified     int
	RewrittenLines int
	Launcher       string
	Duration       time.Duration
	BuiltAt        time.Time
}

// BuildRecorder persists build records.
type BuildRecorder interface {
	RecordBuild(ctx context.Context, rec BuildRecord) error
}

// BatchRecorder persists several records at once.
type BatchRecorder interface {
	BuildRecorder
	RecordBuilds(ctx context.Context, recs []BuildRecord) error
}

// LaunchOptions configures how many replicas a pool runs.
type LaunchOptions struct {
	ReplicaCount      int
	RebuildPerReplica bool
}

// DefaultLaunchOptions returns one shared-artifact replica.
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{ReplicaCount: 1}
}

// Dispatcher hands out proxies of live replicas.
type Dispatcher interface {
	Use() (*rpc.Proxy, error)
}

// WorkerPool is the capability contract of a replicated worker set.
type WorkerPool interface {
	Dispatcher
	BuildAndLaunch(ctx context.Context, sourcePath string, opts LaunchOptions) error
	ReplicaCount() (int, error)
	Destroy(ctx context.Context) error
}

package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	coreapp "omniworker/internal/core/app"
	"omniworker/internal/core/config"
	"omniworker/internal/core/errors"
	"omniworker/internal/shared/observability"
	"omniworker/internal/transport"
)

func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		usage(stderr)
		return 2
	}

	if opts.version {
		fmt.Fprintf(stdout, "omniworker v%s\n", versionString)
		return 0
	}

	configureLogging(stderr, opts.verbose)

	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("failed to detect working directory", "error", err)
		return 1
	}

	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	switch opts.command {
	case "scan":
		sopts, err := parseScanOptions(opts.args)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 2
		}
		return withApp(ctx, cfg, cwd, func(a *coreapp.App) error { return runScan(ctx, a, sopts, stdout) })
	case "build":
		bopts, err := parseBuildOptions(opts.args)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 2
		}
		return withApp(ctx, cfg, cwd, func(a *coreapp.App) error { return runBuild(ctx, a, bopts, stdout) })
	case "call":
		copts, err := parseCallOptions(opts.args)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 2
		}
		return withApp(ctx, cfg, cwd, func(a *coreapp.App) error { return runCall(ctx, a, copts, stdout) })
	case "serve":
		vopts, err := parseServeOptions(opts.args)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 2
		}
		return withApp(ctx, cfg, cwd, func(a *coreapp.App) error {
			return runServe(ctx, a, vopts, cfgPath, stdin, stdout)
		})
	case "history":
		hopts, err := parseHistoryOptions(opts.args)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 2
		}
		return withApp(ctx, cfg, cwd, func(a *coreapp.App) error { return runHistory(ctx, a, hopts, stdout) })
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", opts.command)
		usage(stderr)
		return 2
	}
}

func withApp(ctx context.Context, cfg *config.Config, cwd string, fn func(*coreapp.App) error) int {
	a, err := coreapp.New(cfg, cwd)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("shutdown finished with errors", "error", err)
		}
	}()

	if err := fn(a); err != nil {
		slog.Error("command failed", "code", errors.CodeOf(err), "error", err)
		return 1
	}
	return 0
}

// loadConfig reads an explicit path strictly. Without one it looks for
// ./omniworker.toml and falls back to defaults. The returned path is empty
// when no file was read.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = filepath.Join(cwd, config.DefaultFileName)
	}

	var (
		cfg   *config.Config
		found bool
		err   error
	)
	if explicit {
		cfg, err = config.Load(path)
		found = err == nil
	} else {
		cfg, found, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, "", err
	}

	config.ApplyEnvOverrides(cfg)
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, "", stderrors.Join(errs...)
	}

	if !found {
		slog.Debug("no config file found, using defaults", "path", path)
		return cfg, "", nil
	}
	return cfg, path, nil
}

func runScan(ctx context.Context, a *coreapp.App, opts scanOptions, stdout io.Writer) error {
	res, err := a.Preprocess(ctx, opts.sourcePath)
	if err != nil {
		return err
	}

	if opts.json {
		payload := struct {
			Path       string `json:"path"`
			Flavor     string `json:"flavor"`
			References any    `json:"references"`
			Classified any    `json:"classified"`
			Rewritten  []int  `json:"rewrittenLines"`
			Output     string `json:"output,omitempty"`
		}{
			Path:       res.Path,
			Flavor:     string(res.Flavor),
			References: res.References,
			Classified: res.Classified,
			Rewritten:  res.Rewritten,
		}
		if opts.printCode {
			payload.Output = res.Output
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	binaries := make(map[int]string, len(res.Classified))
	for _, c := range res.Classified {
		binaries[c.Line] = c.BinaryPath
	}

	fmt.Fprintf(stdout, "%s (%s): %d references, %d classified, %d rewritten\n",
		res.Path, res.Flavor, len(res.References), len(res.Classified), len(res.Rewritten))
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, ref := range res.References {
		target := ""
		if bin, ok := binaries[ref.Line]; ok {
			target = "-> " + bin
		}
		fmt.Fprintf(tw, "  L%d\t%s\t%s\t%s\n", ref.Line, ref.Kind, ref.Specifier, target)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if opts.printCode {
		fmt.Fprintln(stdout)
		fmt.Fprint(stdout, res.Output)
	}
	return nil
}

func runBuild(ctx context.Context, a *coreapp.App, opts buildOptions, stdout io.Writer) error {
	out, err := a.BuildArtifact(ctx, opts.sourcePath, opts.outExt)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\t%d bytes\t%s\n", out.Path, out.Artifact.Size(), out.Artifact.Hash)
	return nil
}

func runCall(ctx context.Context, a *coreapp.App, opts callOptions, stdout io.Writer) error {
	args := make([]any, 0, len(opts.args))
	for _, raw := range opts.args {
		args = append(args, decodeArg(raw))
	}

	if err := a.StartPool(ctx, opts.sourcePath); err != nil {
		return err
	}
	proxy, err := a.Use()
	if err != nil {
		return err
	}
	result, err := proxy.Call(ctx, opts.function, args...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(result))
	return err
}

// decodeArg parses raw as JSON and falls back to the literal string, so
// `call w.ts greet bob` passes "bob".
func decodeArg(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func runServe(ctx context.Context, a *coreapp.App, opts serveOptions, cfgPath string, stdin io.Reader, stdout io.Writer) error {
	cfg := a.Config

	if cfg.Observability.Enabled && cfg.Observability.EnableTracing && strings.TrimSpace(cfg.Observability.OTLPEndpoint) != "" {
		shutdown, err := observability.InitTracing(ctx, cfg.Observability.OTLPEndpoint)
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					slog.Warn("failed to flush traces", "error", err)
				}
			}()
		}
	}

	if err := a.StartPool(ctx, opts.sourcePath); err != nil {
		return err
	}

	if cfg.Observability.Enabled && cfg.Observability.EnableMetrics {
		server := NewObservabilityServer(fmt.Sprintf(":%d", cfg.Observability.Port), coreapp.NewHealthService(a), cfg.Serve.RateLimit)
		if err := server.Start(ctx); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = server.Stop(sctx)
		}()
	}

	if opts.watch {
		if err := a.StartWatcher(); err != nil {
			return err
		}
		if cfgPath != "" {
			cw := config.NewWatcher(cfgPath, func(next *config.Config) {
				if err := a.ApplyConfig(ctx, next); err != nil {
					slog.Error("failed to apply reloaded config", "error", err)
				}
			})
			if err := cw.Start(ctx); err != nil {
				slog.Warn("config watcher disabled", "path", cfgPath, "error", err)
			} else {
				defer cw.Stop()
			}
		}
	}

	slog.Info("serving worker pool over stdio", "path", a.SourcePath(), "replicas", cfg.Pool.Replicas, "launcher", a.Launcher().Name())
	server := transport.NewStdio(stdin, stdout, a, transport.RateLimit{
		Enabled:           cfg.Serve.RateLimit.Enabled,
		RequestsPerMinute: cfg.Serve.RateLimit.RequestsPerMinute,
		Burst:             cfg.Serve.RateLimit.Burst,
	})
	err := server.Serve(ctx)
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runHistory(ctx context.Context, a *coreapp.App, opts historyOptions, stdout io.Writer) error {
	entries, summary, err := a.History(ctx, opts.sourcePath, opts.limit)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"summary": summary, "entries": entries})
	}

	fmt.Fprintf(stdout, "%s: %d builds, %d distinct artifacts, %d artifact changes, avg %s, max %s, launchers %s\n",
		summary.SourcePath, summary.Builds, summary.DistinctArtifacts, summary.ArtifactChanges,
		summary.AvgDuration.Round(time.Millisecond), summary.MaxDuration.Round(time.Millisecond),
		strings.Join(summary.Launchers, ","))
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		hash := e.ArtifactHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%d bytes\t%s\n",
			e.BuiltAt.Local().Format(time.RFC3339), e.Launcher, hash, e.ArtifactBytes, e.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

// configureLogging installs a text handler on w. Stdout stays reserved for
// command output and the stdio protocol.
func configureLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

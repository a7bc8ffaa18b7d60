package bundler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"omniworker/internal/core/errors"
	"omniworker/internal/shared/observability"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
)

// Request describes one bundle. Source is the already pre-processed entry
// module; Transform, when set, is applied to every other local module the
// bundle pulls in.
type Request struct {
	EntryPath        string
	Source           string
	Externals        []string
	ExternalPackages bool
	Transform        func(path string, source []byte) (string, error)
}

// ESBuild bundles worker modules with the esbuild Go API. The zero value is
// ready to use; each Bundle call is independent.
type ESBuild struct {
	Target api.Target
}

func NewESBuild() *ESBuild {
	return &ESBuild{Target: api.ES2017}
}

func (b *ESBuild) Bundle(ctx context.Context, req Request) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.EntryPath) == "" {
		return nil, errors.New(errors.CodeValidationError, "entry path is required")
	}

	entry, err := filepath.Abs(req.EntryPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "resolve entry path")
	}

	target := b.Target
	if target == api.DefaultTarget {
		target = api.ES2017
	}

	externals := append([]string{"*" + binaryExtension}, req.Externals...)
	packages := api.PackagesBundle
	if req.ExternalPackages {
		packages = api.PackagesExternal
	}

	start := time.Now()
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   req.Source,
			ResolveDir: filepath.Dir(entry),
			Sourcefile: entry,
			Loader:     loaderFor(entry),
		},
		Bundle:   true,
		Write:    false,
		Format:   api.FormatCommonJS,
		Platform: api.PlatformNode,
		Target:   target,
		External: externals,
		Packages: packages,
		LogLevel: api.LogLevelSilent,
		Plugins:  transformPlugins(req.Transform),
	})
	elapsed := time.Since(start)
	observability.BuildDuration.WithLabelValues("bundle").Observe(elapsed.Seconds())

	if len(result.Errors) > 0 {
		return nil, errors.AddContext(
			errors.Wrap(fmt.Errorf("%s", formatMessages(result.Errors)), errors.CodeInternal, "bundle failed"),
			errors.CtxPath, entry,
		)
	}
	if len(result.OutputFiles) == 0 || len(result.OutputFiles[0].Contents) == 0 {
		return nil, errors.AddContext(errors.New(errors.CodeNoBuildOutput, "no build output for worker"), errors.CtxPath, entry)
	}

	text := string(result.OutputFiles[0].Contents)
	return &Artifact{
		ID:         uuid.NewString(),
		SourcePath: entry,
		Text:       text,
		Hash:       hashText(text),
		Externals:  externals,
		BuiltAt:    time.Now().UTC(),
		Duration:   elapsed,
	}, nil
}

const binaryExtension = ".node"

func loaderFor(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "; ")
}

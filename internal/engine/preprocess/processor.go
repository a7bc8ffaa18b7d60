package preprocess

import (
	"context"
	"os"

	"omniworker/internal/core/errors"
	"omniworker/internal/engine/parser"
	"omniworker/internal/engine/resolver"
	"omniworker/internal/engine/rewriter"
	"omniworker/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Result describes one pre-processed module.
type Result struct {
	Path       string                         `json:"path"`
	Flavor     parser.Flavor                  `json:"flavor"`
	Input      string                         `json:"-"`
	Output     string                         `json:"-"`
	References []parser.ModuleReference       `json:"references"`
	Classified []resolver.ClassifiedReference `json:"classified"`
	Rewritten  []int                          `json:"rewrittenLines"`
}

// NativeBinaries returns the distinct addon paths the output loads directly.
func (r *Result) NativeBinaries() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, c := range r.Classified {
		if c.DependsOnNativeBinary && !seen[c.BinaryPath] {
			seen[c.BinaryPath] = true
			paths = append(paths, c.BinaryPath)
		}
	}
	return paths
}

// Processor runs scan, classify and rewrite over a module.
type Processor struct {
	scanner    *parser.Scanner
	classifier *resolver.Classifier
	rewriter   *rewriter.Rewriter
}

func New(scanner *parser.Scanner, classifier *resolver.Classifier) *Processor {
	if scanner == nil {
		scanner = parser.NewScanner()
	}
	return &Processor{
		scanner:    scanner,
		classifier: classifier,
		rewriter:   rewriter.New(scanner),
	}
}

func (p *Processor) ProcessFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "read worker source"), errors.CtxPath, path)
	}
	return p.ProcessSource(ctx, path, string(data)), nil
}

// ProcessSource never fails: declarations that cannot be parsed or
// classified are left as written.
func (p *Processor) ProcessSource(ctx context.Context, path, source string) *Result {
	_, span := observability.Tracer.Start(ctx, "preprocess.ProcessSource", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	flavor := parser.DetectFlavor(path)
	refs := p.scanner.Scan(source, flavor)

	var classified []resolver.ClassifiedReference
	if p.classifier != nil {
		classified = p.classifier.Classify(refs)
	}
	rewritten := p.rewriter.Rewrite(source, classified, flavor)

	span.SetAttributes(
		attribute.Int("references", len(refs)),
		attribute.Int("classified", len(classified)),
		attribute.Int("rewritten", len(rewritten.Rewritten)),
	)
	return &Result{
		Path:       path,
		Flavor:     flavor,
		Input:      source,
		Output:     rewritten.Text,
		References: refs,
		Classified: classified,
		Rewritten:  rewritten.Rewritten,
	}
}

// Transform adapts the processor to the bundler's per-file hook.
func (p *Processor) Transform(ctx context.Context) func(path string, source []byte) (string, error) {
	return func(path string, source []byte) (string, error) {
		return p.ProcessSource(ctx, path, string(source)).Output, nil
	}
}

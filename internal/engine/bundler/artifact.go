package bundler

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"omniworker/internal/core/errors"
)

// Artifact is a self-contained CommonJS script. Text is never modified after
// the build, so replicas may share it.
type Artifact struct {
	ID         string        `json:"id"`
	SourcePath string        `json:"sourcePath"`
	Text       string        `json:"-"`
	Hash       string        `json:"hash"`
	Externals  []string      `json:"externals,omitempty"`
	BuiltAt    time.Time     `json:"builtAt"`
	Duration   time.Duration `json:"duration"`
}

func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Text)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var outputExtensions = map[string]bool{".js": true, ".mjs": true, ".cjs": true}

// ValidOutputExtension reports whether ext is one of .js, .mjs or .cjs.
func ValidOutputExtension(ext string) bool {
	return outputExtensions[ext]
}

// OutputPath swaps the source extension for ext, as browser-style contexts
// load scripts by URL and need a JavaScript suffix.
func OutputPath(sourcePath, ext string) (string, error) {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if !ValidOutputExtension(ext) {
		return "", errors.Newf(errors.CodeValidationError, "output extension must be one of .js, .mjs, .cjs, got %q", ext)
	}
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ext, nil
}

package workspace

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/renameio"

	"github.com/tombee/atelier/pkg/errors"
)

// SourcePrefix is the directory generated files are confined to.
const SourcePrefix = "src"

// NormalizePath validates a provider-supplied path and rewrites it to
// live under src/. It rejects absolute paths, traversal segments, and
// anything that escapes the root after cleaning.
func NormalizePath(raw string) (string, bool) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", false
	}
	p = filepath.ToSlash(p)
	if path.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", false
	}
	if strings.Contains(p, "..") {
		return "", false
	}

	cleaned := path.Clean(p)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if cleaned != SourcePrefix && !strings.HasPrefix(cleaned, SourcePrefix+"/") {
		cleaned = path.Join(SourcePrefix, cleaned)
	}
	return cleaned, true
}

// Applied records the outcome of writing one file.
type Applied struct {
	RelPath   string
	SizeBytes int64

	// Skipped is set when a protected glob blocked the write.
	Skipped bool
}

// Applier writes parsed revisions into a workspace.
type Applier struct {
	// ProtectedGlobs are workspace-relative doublestar patterns the
	// provider is not allowed to touch (routing files, dependency
	// manifests, global styles). Matching files are skipped, not
	// treated as errors: one stray file must not waste the iteration.
	ProtectedGlobs []string
}

// DefaultProtectedGlobs mirror the planner's default disallowed change
// classes at the file level.
var DefaultProtectedGlobs = []string{
	"package.json",
	"package-lock.json",
	"next.config.*",
	"src/app/globals.css",
	"src/styles/globals.css",
}

// Apply writes the files under workspaceDir, each atomically, creating
// directories as needed. A revision with zero files is a provider
// error: the model produced nothing usable.
func (a *Applier) Apply(ctx context.Context, workspaceDir string, files []File) ([]Applied, error) {
	if len(files) == 0 {
		return nil, &errors.ProviderError{
			Provider:   "codegen",
			Message:    "response contained no valid file entries",
			Suggestion: "the response must carry a <files> block with <file path=\"...\"> children",
		}
	}

	results := make([]Applied, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if a.isProtected(f.RelPath) {
			results = append(results, Applied{RelPath: f.RelPath, Skipped: true})
			continue
		}

		abs, err := securePath(workspaceDir, f.RelPath)
		if err != nil {
			return results, err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return results, errors.Wrapf(err, "creating directory for %s", f.RelPath)
		}
		if err := renameio.WriteFile(abs, []byte(f.Contents), 0o644); err != nil {
			return results, errors.Wrapf(err, "writing %s", f.RelPath)
		}
		results = append(results, Applied{RelPath: f.RelPath, SizeBytes: int64(len(f.Contents))})
	}
	return results, nil
}

func (a *Applier) isProtected(relPath string) bool {
	for _, glob := range a.ProtectedGlobs {
		if ok, err := doublestar.Match(glob, relPath); err == nil && ok {
			return true
		}
	}
	return false
}

// securePath joins rel onto root and verifies the result is still
// inside root. Defense in depth: NormalizePath already rejects
// traversal, but every path derived from external input is re-checked
// at the I/O boundary.
func securePath(root, rel string) (string, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrap(err, "resolving workspace root")
	}
	absResolved, err := filepath.Abs(abs)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", rel)
	}
	if absResolved != rootAbs && !strings.HasPrefix(absResolved, rootAbs+string(filepath.Separator)) {
		return "", &errors.ValidationError{
			Field:   "path",
			Message: "path escapes the workspace: " + rel,
		}
	}
	return absResolved, nil
}

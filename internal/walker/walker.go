// Package walker implements the directory walk of spec.md §6: recursive
// traversal that skips dotfiles and target-prefixed entries, follows no
// symlinks, and emits one path per registered-extension regular file.
package walker

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/latticecode/semindex/internal/span"
)

// DefaultExcludeGlobs supplements spec.md §6's two hardcoded rules (dot
// prefix, "target" prefix) with the common build/dependency directories the
// teacher's indexer.DefaultExcludePatterns names, expressed as doublestar
// globs so a caller's config can extend the list with arbitrary patterns
// (e.g. "**/*.min.js") rather than being limited to bare directory names.
func DefaultExcludeGlobs() []string {
	return []string{
		"**/node_modules/**",
		"**/vendor/**",
		"**/__pycache__/**",
		"**/build/**",
		"**/dist/**",
		"**/.git/**",
	}
}

// Walker walks a directory tree, filtering entries against an Extractor's
// registered extensions and a set of exclude globs.
type Walker struct {
	extractor    *span.Extractor
	excludeGlobs []string
}

// New constructs a Walker. excludeGlobs is matched against each entry's path
// relative to the walk root, in addition to the two rules spec.md §6 always
// applies (dot-prefixed and target-prefixed names).
func New(extractor *span.Extractor, excludeGlobs []string) *Walker {
	return &Walker{extractor: extractor, excludeGlobs: excludeGlobs}
}

// Walk traverses root and calls emit once per regular file with a
// registered extension, in the order filepath.WalkDir visits them. A
// per-entry stat error is logged and skipped rather than aborting the walk;
// emit's own error does abort the walk and is returned to the caller.
func (w *Walker) Walk(ctx context.Context, root string, emit func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("walker: skip %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "target")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr == nil {
			relSlash := filepath.ToSlash(rel)
			for _, g := range w.excludeGlobs {
				if matched, _ := doublestar.Match(g, relSlash); matched {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
			}
		}

		if d.IsDir() {
			return nil
		}
		if !w.extractor.IsSupported(path) {
			return nil
		}
		return emit(path)
	})
}

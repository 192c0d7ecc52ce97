package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/latticecode/semindex/internal/langspec"
	"github.com/latticecode/semindex/internal/span"
)

func newTestWalker(excludeGlobs []string) *Walker {
	extractor := span.NewExtractor(langspec.NewRegistry())
	return New(extractor, excludeGlobs)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkEmitsOnlySupportedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "README.md"), "hello\n")

	w := newTestWalker(nil)
	var emitted []string
	err := w.Walk(context.Background(), root, func(path string) error {
		emitted = append(emitted, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}

	if len(emitted) != 1 || filepath.Base(emitted[0]) != "main.go" {
		t.Fatalf("expected only main.go to be emitted, got %v", emitted)
	}
}

func TestWalkSkipsDotAndTargetPrefixedEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden", "a.go"), "package a\n")
	writeFile(t, filepath.Join(root, "target-build", "b.go"), "package b\n")
	writeFile(t, filepath.Join(root, "visible.go"), "package visible\n")

	w := newTestWalker(nil)
	var emitted []string
	err := w.Walk(context.Background(), root, func(path string) error {
		emitted = append(emitted, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}

	if len(emitted) != 1 || filepath.Base(emitted[0]) != "visible.go" {
		t.Fatalf("expected only visible.go, got %v", emitted)
	}
}

func TestWalkHonoursExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vendor", "dep.go"), "package dep\n")
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")

	w := newTestWalker([]string{"**/vendor/**"})
	var emitted []string
	err := w.Walk(context.Background(), root, func(path string) error {
		emitted = append(emitted, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}

	if len(emitted) != 1 || filepath.Base(emitted[0]) != "main.go" {
		t.Fatalf("expected vendor/dep.go to be excluded, got %v", emitted)
	}
}

func TestWalkRootItselfIsNeverSkippedByDotPrefix(t *testing.T) {
	root := t.TempDir()
	dotRoot := filepath.Join(root, ".hidden-root")
	writeFile(t, filepath.Join(dotRoot, "a.go"), "package a\n")

	w := newTestWalker(nil)
	var emitted []string
	err := w.Walk(context.Background(), dotRoot, func(path string) error {
		emitted = append(emitted, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}

	if len(emitted) != 1 {
		t.Fatalf("expected the dot-prefixed root itself to still be walked, got %v", emitted)
	}
}

func TestWalkStopsOnContextCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, "pkg", string(rune('a'+i))+".go"), "package pkg\n")
	}

	w := newTestWalker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var emitted []string
	err := w.Walk(ctx, root, func(path string) error {
		emitted = append(emitted, path)
		return nil
	})
	if err == nil {
		t.Fatal("expected Walk to return the cancellation error")
	}
	sort.Strings(emitted)
}

// Package span implements the Span Extractor (spec.md §4.1): a pure,
// synchronous function from (file path, language spec) to an ordered
// sequence of ContextDocuments.
package span

import (
	"context"
	"fmt"
	"os"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/latticecode/semindex/internal/document"
	"github.com/latticecode/semindex/internal/langspec"
)

// Extractor evaluates a registry's compiled queries against a file's parse
// tree. Safe for concurrent use from any worker — it holds no mutable state
// beyond the registry's internal cache, which guards itself.
type Extractor struct {
	registry *langspec.Registry
}

// NewExtractor returns an Extractor backed by registry.
func NewExtractor(registry *langspec.Registry) *Extractor {
	return &Extractor{registry: registry}
}

// IsSupported reports whether path has a registered grammar.
func (e *Extractor) IsSupported(path string) bool {
	return e.registry.IsSupported(path)
}

// ExtractFile reads path, parses it with the grammar registered for its
// extension, and returns one ContextDocument per match of the "item"
// capture, in byte-ascending (parser match) order.
//
// Any per-file failure — unreadable file, missing grammar, malformed query —
// is returned as an error; the caller is responsible for logging and
// skipping per spec.md §4.1 "Failure semantics". ExtractFile itself never
// logs and never touches shared state.
func (e *Extractor) ExtractFile(ctx context.Context, path string) ([]document.ContextDocument, error) {
	spec, err := e.registry.Lookup(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("span: read %s: %w", path, err)
	}

	return e.extractContent(ctx, path, spec, content)
}

func (e *Extractor) extractContent(ctx context.Context, path string, spec *langspec.Spec, content []byte) ([]document.ContextDocument, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(spec.Grammar)
	defer parser.Close()

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("span: parse %s: %w", path, err)
	}
	defer tree.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(spec.Query, tree.RootNode())

	var docs []document.ContextDocument
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		for _, capture := range match.Captures {
			// Capture index 0 is the designated "item" capture — the only
			// one any query in the registry defines.
			if capture.Index != 0 {
				continue
			}
			node := capture.Node
			start := int(node.StartByte())
			end := int(node.EndByte())
			if end <= start {
				continue
			}
			docs = append(docs, document.New(path, spec.Name, start, end, node.Content(content)))
		}
	}

	return docs, nil
}

// Package langspec is the registry mapping a file extension to the
// {language_name, query} configuration the Span Extractor (spec.md §4.1)
// evaluates against that file's parse tree.
package langspec

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Spec is one registry entry: a grammar, its name, and the compiled query
// whose capture index 0 ("item") designates the span boundary.
type Spec struct {
	Name     string
	Grammar  *sitter.Language
	Query    *sitter.Query
	rawQuery string
}

// queryFor returns the tree-sitter query source capturing the "item" nodes
// for a language — the top-level declarations spec.md §2 calls spans.
func queryFor(name string) string {
	switch name {
	case "rust":
		return `[
			(struct_item) @item
			(impl_item) @item
			(enum_item) @item
		]`
	case "go":
		return `[
			(type_declaration) @item
			(function_declaration) @item
			(method_declaration) @item
		]`
	case "python":
		return `[
			(class_definition) @item
			(function_definition) @item
		]`
	case "javascript":
		return `[
			(class_declaration) @item
			(function_declaration) @item
		]`
	case "typescript":
		return `[
			(class_declaration) @item
			(function_declaration) @item
			(interface_declaration) @item
		]`
	case "java":
		return `[
			(class_declaration) @item
			(interface_declaration) @item
			(enum_declaration) @item
			(method_declaration) @item
		]`
	case "c":
		return `[
			(struct_specifier) @item
			(function_definition) @item
			(enum_specifier) @item
		]`
	case "cpp":
		return `[
			(struct_specifier) @item
			(class_specifier) @item
			(function_definition) @item
			(enum_specifier) @item
		]`
	default:
		return ""
	}
}

func grammarFor(name string) *sitter.Language {
	switch name {
	case "rust":
		return rust.GetLanguage()
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "java":
		return java.GetLanguage()
	case "c":
		return c.GetLanguage()
	case "cpp":
		return cpp.GetLanguage()
	default:
		return nil
	}
}

// extToLanguage is the extension → language-name table. Multiple extensions
// may share a language (e.g. .h and .c both use the c grammar).
var extToLanguage = map[string]string{
	".rs":   "rust",
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
}

// Registry lazily compiles and caches one Spec per language, shared across
// all Span Extractor invocations (grammars and queries are immutable and
// safe for concurrent read-only use once compiled).
type Registry struct {
	mu    sync.Mutex
	specs map[string]*Spec
}

// NewRegistry returns a registry backed by the built-in extension table.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// IsSupported reports whether path's extension has a registered language.
func (r *Registry) IsSupported(path string) bool {
	_, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Lookup returns the compiled Spec for path's extension, compiling and
// caching it on first use. Returns an error if the extension is
// unregistered or the grammar/query fails to compile.
func (r *Registry) Lookup(path string) (*Spec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	name, ok := extToLanguage[ext]
	if !ok {
		return nil, fmt.Errorf("langspec: no grammar registered for extension %q", ext)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if spec, ok := r.specs[name]; ok {
		return spec, nil
	}

	grammar := grammarFor(name)
	if grammar == nil {
		return nil, fmt.Errorf("langspec: no grammar for language %q", name)
	}
	raw := queryFor(name)
	if raw == "" {
		return nil, fmt.Errorf("langspec: no query for language %q", name)
	}
	query, err := sitter.NewQuery([]byte(raw), grammar)
	if err != nil {
		return nil, fmt.Errorf("langspec: invalid query for %q: %w", name, err)
	}

	spec := &Spec{Name: name, Grammar: grammar, Query: query, rawQuery: raw}
	r.specs[name] = spec
	return spec, nil
}

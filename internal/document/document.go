// Package document defines ContextDocument, the unit of text the indexing
// pipeline extracts from a source file and hands to the embedding provider.
package document

import (
	"crypto/sha256"
	"fmt"
)

// ContextDocument is one syntactic span extracted from a file: a byte range
// together with the prompt-formatted text fed to the embedder and that
// text's content hash. Immutable after construction.
type ContextDocument struct {
	StartByte int    // inclusive
	EndByte   int    // exclusive, > StartByte
	Language  string
	Content   string // prompt-formatted text fed to the embedder
	SHA       [32]byte
}

// New builds a ContextDocument for the span [startByte, endByte) of path,
// rendering content with the standard prompt template and hashing it.
func New(path, language string, startByte, endByte int, span string) ContextDocument {
	content := FormatPrompt(path, language, span)
	return ContextDocument{
		StartByte: startByte,
		EndByte:   endByte,
		Language:  language,
		Content:   content,
		SHA:       sha256.Sum256([]byte(content)),
	}
}

// FormatPrompt renders the fixed prompt template a span's source text is
// embedded through.
func FormatPrompt(path, language, span string) string {
	return fmt.Sprintf("The below is a code snippet from the '%s' file.\n```%s\n%s\n```", path, language, span)
}

// SHAHex returns the lowercase hex encoding of d.SHA, the form persisted and
// compared against the store's cached-embedding lookup.
func (d ContextDocument) SHAHex() string {
	return fmt.Sprintf("%x", d.SHA)
}

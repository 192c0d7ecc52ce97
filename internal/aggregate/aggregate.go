// Package aggregate implements the FileAggregate (spec.md §4.2): the
// in-flight, mutex-guarded per-file state the Embedding Queue fills and the
// Persistence Actor drains.
package aggregate

import (
	"sync"

	"github.com/latticecode/semindex/internal/document"
	"github.com/latticecode/semindex/internal/job"
)

// Details identifies a FileAggregate's file and its owning Directory Job.
type Details struct {
	Path string
	Job  *job.Job
}

// FileAggregate is one in-flight file. documents is fixed at construction;
// embeddings is the same length, each slot initially empty ([]float32(nil)
// or zero-length), filled in place as the Embedding Queue's worker writes
// results back.
//
// Destruction must invoke Release exactly once, which decrements the owning
// Directory Job's outstanding counter. See job.Job's doc comment for why
// the matching increment happens earlier, at the walker, rather than here.
type FileAggregate struct {
	details Details

	mu         sync.Mutex
	documents  []document.ContextDocument
	embeddings [][]float32

	releaseOnce sync.Once
}

// New constructs a FileAggregate over a fixed sequence of documents. The
// embeddings slice is allocated to the same length, all slots empty.
func New(details Details, documents []document.ContextDocument) *FileAggregate {
	return &FileAggregate{
		details:    details,
		documents:  documents,
		embeddings: make([][]float32, len(documents)),
	}
}

// Path returns the file path this aggregate belongs to.
func (f *FileAggregate) Path() string { return f.details.Path }

// Job returns the owning Directory Job.
func (f *FileAggregate) Job() *job.Job { return f.details.Job }

// Documents returns the fixed document sequence. Safe to read without
// locking: it never changes after construction.
func (f *FileAggregate) Documents() []document.ContextDocument { return f.documents }

// DocumentIDs returns the indices of currently-empty embedding slots.
func (f *FileAggregate) DocumentIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []int
	for i, emb := range f.embeddings {
		if len(emb) == 0 {
			ids = append(ids, i)
		}
	}
	return ids
}

// SetEmbedding fills slot i. Index i must correspond to the same index in
// Documents(); the caller (the Embedding Queue's worker) is responsible for
// keeping the two aligned.
func (f *FileAggregate) SetEmbedding(i int, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[i] = vec
}

// Complete reports whether every embedding slot has been filled.
func (f *FileAggregate) Complete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.complete()
}

func (f *FileAggregate) complete() bool {
	for _, emb := range f.embeddings {
		if len(emb) == 0 {
			return false
		}
	}
	return true
}

// Embeddings returns a snapshot of the embeddings slice, positionally
// aligned with Documents(). Intended to be called once Complete() is true;
// the Persistence Actor is the only reader.
func (f *FileAggregate) Embeddings() [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]float32, len(f.embeddings))
	copy(out, f.embeddings)
	return out
}

// Release decrements the owning Directory Job's outstanding counter exactly
// once, regardless of how many times Release is called or whether the file
// ever reached Complete(). Every pipeline stage that drops a FileAggregate —
// on successful persistence, on a store error, or on an embed failure that
// abandons the file — must call Release when it does so.
func (f *FileAggregate) Release() {
	f.releaseOnce.Do(func() {
		f.details.Job.JobDropped()
	})
}

package store

import (
	"context"
	"log"

	"github.com/latticecode/semindex/internal/aggregate"
)

// backend is the persistence surface the actor drives. *Store is the
// production implementation; tests substitute an in-memory fake so the
// actor's persist/dimension-validation/release logic can run without a
// live SurrealDB connection, mirroring the teacher's t.Skip-guarded DB
// tests in spirit but without needing to skip anything.
type backend interface {
	GetOrCreateDirectory(ctx context.Context, path string) (string, error)
	CreateFileAndSpans(ctx context.Context, directoryID, path string, spans []spanInput) error
	DeleteFile(ctx context.Context, directoryID, path string) error
	GetFilesForDirectory(ctx context.Context, directoryID string) (map[string]bool, error)
	GetEmbeddingsForDirectory(ctx context.Context, directoryID string) (map[string][]float32, error)
	GetTopNeighbours(ctx context.Context, directoryPath string, queryEmbedding []float32, n int) ([]SearchResult, error)
	RunMigrations(ctx context.Context) error
}

// Actor is the Persistence Actor (spec.md §4.5): the single long-lived task
// owning the sole mutable handle to the store. It reads two sources: a
// direct request channel for synchronous queries with reply slots, and the
// finished-files channel for writes. All store mutation is serialised
// through Run, which is the concurrency contract spec.md §5 requires.
type Actor struct {
	store     backend
	dimension int

	requests chan request
	finished <-chan *aggregate.FileAggregate
}

type request struct {
	exec  func(ctx context.Context) (any, error)
	reply chan result
}

type result struct {
	value any
	err   error
}

// NewActor constructs an Actor. finished is the Embedding Queue's
// finished-files channel. dimension, if > 0, is validated against every
// span's embedding length on insert (spec.md §9 SHOULD).
func NewActor(s *Store, finished <-chan *aggregate.FileAggregate, dimension int) *Actor {
	return newActor(s, finished, dimension)
}

// newActor is the backend-polymorphic constructor tests use with an
// in-memory backend; NewActor is its exported, *Store-only entry point.
func newActor(s backend, finished <-chan *aggregate.FileAggregate, dimension int) *Actor {
	return &Actor{
		store:     s,
		dimension: dimension,
		requests:  make(chan request, 1000),
		finished:  finished,
	}
}

// Run is the actor's main loop. It returns when ctx is cancelled.
func (a *Actor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-a.requests:
			if !ok {
				return
			}
			val, err := req.exec(ctx)
			select {
			case req.reply <- result{value: val, err: err}:
			default:
			}
		case file, ok := <-a.finished:
			if !ok {
				a.finished = nil
				continue
			}
			a.persist(ctx, file)
		}
	}
}

// call sends exec to the actor and blocks for its result or ctx
// cancellation. This is the "single-use reply slot" protocol of spec.md
// §4.5.
func (a *Actor) call(ctx context.Context, exec func(ctx context.Context) (any, error)) (any, error) {
	reply := make(chan result, 1)
	req := request{exec: exec, reply: reply}

	select {
	case a.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetOrCreateDirectory routes through the actor's request channel.
func (a *Actor) GetOrCreateDirectory(ctx context.Context, path string) (string, error) {
	v, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.store.GetOrCreateDirectory(ctx, path)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetTopNeighbours routes through the actor's request channel.
func (a *Actor) GetTopNeighbours(ctx context.Context, directoryPath string, queryEmbedding []float32, n int) ([]SearchResult, error) {
	v, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.store.GetTopNeighbours(ctx, directoryPath, queryEmbedding, n)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]SearchResult), nil
}

// GetFilesForDirectory routes through the actor's request channel.
func (a *Actor) GetFilesForDirectory(ctx context.Context, directoryID string) (map[string]bool, error) {
	v, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.store.GetFilesForDirectory(ctx, directoryID)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]bool), nil
}

// GetEmbeddingsForDirectory routes through the actor's request channel.
func (a *Actor) GetEmbeddingsForDirectory(ctx context.Context, directoryID string) (map[string][]float32, error) {
	v, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return a.store.GetEmbeddingsForDirectory(ctx, directoryID)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string][]float32), nil
}

// DeleteFile routes through the actor's request channel, used when the
// walker finds a file removed from disk.
func (a *Actor) DeleteFile(ctx context.Context, directoryID, path string) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return nil, a.store.DeleteFile(ctx, directoryID, path)
	})
	return err
}

// RunMigrations routes through the actor's request channel.
func (a *Actor) RunMigrations(ctx context.Context) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		return nil, a.store.RunMigrations(ctx)
	})
	return err
}

// persist handles one completed FileAggregate off the finished-files
// channel: validate embedding dimensions, write via CreateFileAndSpans, and
// release the FileAggregate exactly once regardless of outcome — this is
// the FileAggregate's destruction point spec.md §4.2 describes for the
// success path.
func (a *Actor) persist(ctx context.Context, file *aggregate.FileAggregate) {
	defer file.Release()

	docs := file.Documents()
	embeddings := file.Embeddings()
	directoryID := file.Job().ID()

	// A file with zero extracted spans gets no file row either: an earlier
	// indexed version's row (if any) is removed, but nothing is created in
	// its place, matching spec.md §4.2's boundary case for empty files.
	if len(docs) == 0 {
		if err := a.store.DeleteFile(ctx, directoryID, file.Path()); err != nil {
			log.Printf("store: persistence actor: delete stale %s: %v", file.Path(), err)
		}
		return
	}

	spans := make([]spanInput, 0, len(docs))
	for i, doc := range docs {
		emb := embeddings[i]
		if a.dimension > 0 && len(emb) != a.dimension {
			log.Printf("store: persistence actor: dropping span %d of %s: embedding dimension %d != expected %d",
				i, file.Path(), len(emb), a.dimension)
			continue
		}
		spans = append(spans, spanInput{
			StartByte: doc.StartByte,
			EndByte:   doc.EndByte,
			SHA:       doc.SHAHex(),
			Embedding: emb,
		})
	}

	if err := a.store.CreateFileAndSpans(ctx, directoryID, file.Path(), spans); err != nil {
		log.Printf("store: persistence actor: write %s: %v", file.Path(), err)
	}
}

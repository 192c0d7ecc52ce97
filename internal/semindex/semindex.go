// Package semindex is the orchestrator and public façade of spec.md §6: it
// wires the Span Extractor, FileAggregate/Directory Job bookkeeping,
// Embedding Queue, and Persistence Actor into the four long-lived tasks the
// pipeline needs, plus the walker's transient per-call task, and exposes
// index_directory, search_directory, get_status.
package semindex

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticecode/semindex/internal/aggregate"
	"github.com/latticecode/semindex/internal/embedding"
	"github.com/latticecode/semindex/internal/embedqueue"
	"github.com/latticecode/semindex/internal/job"
	"github.com/latticecode/semindex/internal/langspec"
	"github.com/latticecode/semindex/internal/llm"
	"github.com/latticecode/semindex/internal/span"
	"github.com/latticecode/semindex/internal/store"
	"github.com/latticecode/semindex/internal/walker"
)

// State is the coarse get_status result spec.md §6 calls
// Indexing{outstanding} / Indexed / NotIndexed.
type State int

const (
	// NotIndexed means index_directory has never been called for this path.
	NotIndexed State = iota
	Indexing
	Indexed
)

// Status is the snapshot get_status returns.
type Status struct {
	State       State
	Outstanding int64
}

// Config configures a new Index. Store holds the SurrealDB connection
// parameters — the concrete realisation of the façade's abstract `db_dir`
// parameter in this implementation. QueryExpander is optional: when set,
// search_directory asks it to enrich the query text before embedding, a
// capability spec.md treats as out of scope for the core but SPEC_FULL.md
// wires in as an optional enrichment.
type Config struct {
	Store            store.Config
	EmbedProvider    embedding.Provider
	QueryExpander    llm.Provider
	ExcludeGlobs     []string
	BatchSpans       int
	FlushIntervalMs  int
	ParseChannelSize int
}

// Index is the running pipeline: one store connection, one Embedding Queue,
// one Persistence Actor, one parser task, shared across every
// index_directory/search_directory/get_status call.
type Index struct {
	extractor *span.Extractor
	walker    *walker.Walker
	embed     embedding.Provider
	expander  llm.Provider

	store *store.Store
	actor *store.Actor
	queue *embedqueue.Queue

	parseCh chan parseTask

	mu   sync.Mutex
	jobs map[string]*job.Job

	cancel context.CancelFunc
	group  *errgroup.Group
}

type parseTask struct {
	path        string
	directoryID string
	job         *job.Job
	cached      map[string][]float32
}

// New connects to the store, launches the four long-lived tasks (parser,
// timer-driven batching, embed worker, persistence actor), and returns a
// running Index. Callers should call Close when finished.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.EmbedProvider == nil {
		return nil, fmt.Errorf("semindex: embed provider is required")
	}

	s, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("semindex: connect store: %w", err)
	}
	if err := s.RunMigrations(ctx); err != nil {
		log.Printf("semindex: migrations: %v", err)
	}

	registry := langspec.NewRegistry()
	extractor := span.NewExtractor(registry)

	excludeGlobs := append(walker.DefaultExcludeGlobs(), cfg.ExcludeGlobs...)

	queue := embedqueue.New(embedqueue.Config{
		Provider:      cfg.EmbedProvider,
		BatchSpans:    cfg.BatchSpans,
		FlushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
	})

	actor := store.NewActor(s, queue.Finished(), cfg.EmbedProvider.Dimension())

	runCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)
	idx := &Index{
		extractor: extractor,
		walker:    walker.New(extractor, excludeGlobs),
		embed:     cfg.EmbedProvider,
		expander:  cfg.QueryExpander,
		store:     s,
		actor:     actor,
		queue:     queue,
		parseCh:   make(chan parseTask, parseChannelSize(cfg.ParseChannelSize)),
		jobs:      make(map[string]*job.Job),
		cancel:    cancel,
		group:     group,
	}

	// errgroup.WithContext manages the three long-lived tasks as one group:
	// Close's cancel() tears all of them down together, and group.Wait()
	// there blocks until every task has actually returned.
	group.Go(func() error { idx.runParserTask(groupCtx); return nil })
	group.Go(func() error { queue.Start(groupCtx); return nil })
	group.Go(func() error { actor.Run(groupCtx); return nil })

	return idx, nil
}

func parseChannelSize(n int) int {
	if n <= 0 {
		return 10000
	}
	return n
}

// Close tears down the long-lived tasks and the store connection. idx.store
// is nil when the Index was assembled over an in-memory Actor (tests), which
// has no connection to close.
func (idx *Index) Close() error {
	idx.cancel()
	idx.group.Wait()
	if idx.store != nil {
		return idx.store.Close()
	}
	return nil
}

// IndexDirectory walks path, submits every registered-extension file for
// parsing, deletes store rows for files no longer present on disk, and
// returns the Directory Job tracking this call. The caller awaits
// job.Notified(ctx) for completion; get_status(path) observes the same job
// in the meantime.
func (idx *Index) IndexDirectory(ctx context.Context, path string) (*job.Job, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("semindex: resolve %s: %w", path, err)
	}

	directoryID, err := idx.actor.GetOrCreateDirectory(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("semindex: get or create directory: %w", err)
	}

	knownFiles, err := idx.actor.GetFilesForDirectory(ctx, directoryID)
	if err != nil {
		return nil, fmt.Errorf("semindex: list known files: %w", err)
	}

	cached, err := idx.actor.GetEmbeddingsForDirectory(ctx, directoryID)
	if err != nil {
		log.Printf("semindex: list cached embeddings for %s: %v", absPath, err)
		cached = nil
	}

	j := job.New(directoryID)
	idx.mu.Lock()
	idx.jobs[absPath] = j
	idx.mu.Unlock()

	walkErr := idx.walker.Walk(ctx, absPath, func(filePath string) error {
		delete(knownFiles, filePath)

		j.NewJob()
		select {
		case idx.parseCh <- parseTask{path: filePath, directoryID: directoryID, job: j, cached: cached}:
			return nil
		case <-ctx.Done():
			j.JobDropped()
			return ctx.Err()
		}
	})
	if walkErr != nil {
		j.Arm()
		return j, fmt.Errorf("semindex: walk %s: %w", absPath, walkErr)
	}

	// §6 "Directory re-indexing" (c): anything left in knownFiles was not
	// seen on this walk and is deleted from the store.
	for stalePath := range knownFiles {
		if err := idx.actor.DeleteFile(ctx, directoryID, stalePath); err != nil {
			log.Printf("semindex: delete stale file %s: %v", stalePath, err)
		}
	}

	j.Arm()
	return j, nil
}

// GetStatus returns the coarse state of the most recent index_directory
// call for path, or NotIndexed if index_directory has never been called for
// it.
func (idx *Index) GetStatus(path string) Status {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Status{State: NotIndexed}
	}

	idx.mu.Lock()
	j, ok := idx.jobs[absPath]
	idx.mu.Unlock()
	if !ok {
		return Status{State: NotIndexed}
	}

	st := j.Status()
	if st.State == job.Indexed {
		return Status{State: Indexed}
	}
	return Status{State: Indexing, Outstanding: st.Outstanding}
}

// SearchDirectory embeds query (optionally expanded first by the configured
// QueryExpander) and returns the top-n nearest spans under path.
func (idx *Index) SearchDirectory(ctx context.Context, path string, n int, query string) ([]store.SearchResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("semindex: resolve %s: %w", path, err)
	}

	searchText := query
	if idx.expander != nil {
		if expanded, err := idx.expandQuery(ctx, query); err != nil {
			log.Printf("semindex: query expansion failed, using raw query: %v", err)
		} else {
			searchText = expanded
		}
	}

	vec, err := idx.embed.EmbedSingle(ctx, searchText)
	if err != nil {
		return nil, fmt.Errorf("semindex: embed query: %w", err)
	}

	results, err := idx.actor.GetTopNeighbours(ctx, absPath, vec, n)
	if err != nil {
		return nil, fmt.Errorf("semindex: search %s: %w", absPath, err)
	}
	return results, nil
}

// expandQuery is the optional enrichment step: it asks the configured LLM
// to restate the query in terms closer to how the indexed spans read,
// before embedding. Not required by any invariant; a failure here always
// falls back to the raw query in SearchDirectory.
func (idx *Index) expandQuery(ctx context.Context, query string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "Restate the user's search request as a short description of the code it is looking for. Reply with the description only."},
		{Role: llm.RoleUser, Content: query},
	}
	expanded, err := idx.expander.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return query, nil
	}
	return expanded, nil
}

// runParserTask is the parser task of spec.md §5: it drains parseCh,
// extracts spans, fills any cache-hit embedding slots, and hands the
// resulting FileAggregate to the Embedding Queue. A parse failure calls
// JobDropped directly, since no FileAggregate exists to carry that release.
func (idx *Index) runParserTask(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-idx.parseCh:
			if !ok {
				return
			}
			idx.processParseTask(ctx, task)
		}
	}
}

func (idx *Index) processParseTask(ctx context.Context, task parseTask) {
	docs, err := idx.extractor.ExtractFile(ctx, task.path)
	if err != nil {
		log.Printf("semindex: extract %s: %v", task.path, err)
		task.job.JobDropped()
		return
	}

	file := aggregate.New(aggregate.Details{Path: task.path, Job: task.job}, docs)
	for i, doc := range docs {
		if vec, ok := task.cached[doc.SHAHex()]; ok && len(vec) > 0 {
			file.SetEmbedding(i, vec)
		}
	}

	if file.Complete() {
		if err := idx.queue.PublishCompleted(ctx, file); err != nil {
			log.Printf("semindex: publish %s: %v", task.path, err)
		}
		return
	}
	if err := idx.queue.Submit(ctx, file); err != nil {
		log.Printf("semindex: submit %s: %v", task.path, err)
	}
}

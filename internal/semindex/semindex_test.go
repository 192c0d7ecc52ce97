package semindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticecode/semindex/internal/embedding"
	"github.com/latticecode/semindex/internal/embedqueue"
	"github.com/latticecode/semindex/internal/job"
	"github.com/latticecode/semindex/internal/langspec"
	"github.com/latticecode/semindex/internal/span"
	"github.com/latticecode/semindex/internal/store"
	"github.com/latticecode/semindex/internal/walker"
)

// countingProvider wraps a Provider to record every batched Embed call this
// test needs to assert against (spec.md §8 laws 7 and 11): how many calls
// were made and how large each one was.
type countingProvider struct {
	embedding.Provider
	mu    sync.Mutex
	sizes []int
}

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.sizes = append(p.sizes, len(texts))
	p.mu.Unlock()
	return p.Provider.Embed(ctx, texts)
}

func (p *countingProvider) callSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.sizes))
	copy(out, p.sizes)
	return out
}

// slowProvider adds latency to every batched Embed call so a test observing
// get_status immediately after index_directory returns reliably catches the
// pipeline mid-flight rather than racing a near-instant in-memory embed.
type slowProvider struct {
	embedding.Provider
	delay time.Duration
}

func (p *slowProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(p.delay)
	return p.Provider.Embed(ctx, texts)
}

// newTestIndex assembles an Index the same way New does, except the
// Persistence Actor runs over an in-memory backend (internal/store.memory.go)
// instead of a live SurrealDB connection, so these tests drive the real
// IndexDirectory/SearchDirectory/GetStatus façade with no database.
func newTestIndex(t *testing.T, embed embedding.Provider, queueCfg embedqueue.Config) *Index {
	t.Helper()

	queueCfg.Provider = embed
	queue := embedqueue.New(queueCfg)
	actor := store.NewInMemoryActor(queue.Finished(), embed.Dimension())

	registry := langspec.NewRegistry()
	extractor := span.NewExtractor(registry)

	runCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)
	idx := &Index{
		extractor: extractor,
		walker:    walker.New(extractor, walker.DefaultExcludeGlobs()),
		embed:     embed,
		store:     nil,
		actor:     actor,
		queue:     queue,
		parseCh:   make(chan parseTask, 10000),
		jobs:      make(map[string]*job.Job),
		cancel:    cancel,
		group:     group,
	}
	group.Go(func() error { idx.runParserTask(groupCtx); return nil })
	group.Go(func() error { queue.Start(groupCtx); return nil })
	group.Go(func() error { actor.Run(groupCtx); return nil })

	t.Cleanup(func() {
		if err := idx.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return idx
}

// writeGoFile writes a .go file under dir with n top-level functions, one
// span per function per internal/langspec's go query.
func writeGoFile(t *testing.T, dir, name string, n int) string {
	t.Helper()
	var body string
	body = "package pkg\n"
	for i := 0; i < n; i++ {
		body += fmt.Sprintf("\nfunc Fn%d() {}\n", i)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
	return path
}

func mustNotify(t *testing.T, j *job.Job) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Notified(ctx); err != nil {
		t.Fatalf("Notified: %v", err)
	}
}

// S1 — single file, two spans: byte ranges are distinct, search with a
// span's own text ranks that span first.
func TestIndexDirectorySingleFileTwoSpans(t *testing.T) {
	dir := t.TempDir()
	path := writeGoFile(t, dir, "two_spans.go", 2)

	idx := newTestIndex(t, embedding.NewFakeProvider(8), embedqueue.Config{})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	mustNotify(t, j)

	absDir, _ := filepath.Abs(dir)
	dirID, err := idx.actor.GetOrCreateDirectory(ctx, absDir)
	if err != nil {
		t.Fatalf("GetOrCreateDirectory: %v", err)
	}
	known, err := idx.actor.GetFilesForDirectory(ctx, dirID)
	if err != nil {
		t.Fatalf("GetFilesForDirectory: %v", err)
	}
	if len(known) != 1 {
		t.Fatalf("expected exactly one file row, got %d", len(known))
	}

	registry := langspec.NewRegistry()
	docs, err := span.NewExtractor(registry).ExtractFile(ctx, path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 spans from the fixture file, got %d", len(docs))
	}
	if docs[0].StartByte >= docs[0].EndByte || docs[1].StartByte >= docs[1].EndByte {
		t.Fatalf("expected well-formed byte ranges, got %+v and %+v", docs[0], docs[1])
	}
	if docs[0].EndByte > docs[1].StartByte {
		t.Fatalf("expected non-overlapping spans in source order, got %+v and %+v", docs[0], docs[1])
	}

	results, err := idx.SearchDirectory(ctx, dir, 10, docs[0].Content)
	if err != nil {
		t.Fatalf("SearchDirectory: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both spans back, got %d", len(results))
	}
	if results[0].StartByte != docs[0].StartByte || results[0].EndByte != docs[0].EndByte {
		t.Fatalf("expected the queried span to rank first, got %+v", results[0])
	}
}

// S2 — notify semantics: get_status observed right after index_directory
// returns shows outstanding work; after the notifier, it shows Indexed.
func TestIndexDirectoryNotifySemantics(t *testing.T) {
	dir := t.TempDir()
	const fileCount = 25
	for i := 0; i < fileCount; i++ {
		writeGoFile(t, dir, fmt.Sprintf("file_%02d.go", i), 1)
	}

	slow := &slowProvider{Provider: embedding.NewFakeProvider(8), delay: 15 * time.Millisecond}
	idx := newTestIndex(t, slow, embedqueue.Config{FlushInterval: 10 * time.Millisecond})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}

	st := idx.GetStatus(dir)
	if st.State != Indexing {
		t.Fatalf("expected Indexing immediately after index_directory, got %+v", st)
	}
	if st.Outstanding < 1 || st.Outstanding > fileCount {
		t.Fatalf("expected outstanding in [1, %d], got %d", fileCount, st.Outstanding)
	}

	mustNotify(t, j)

	if st := idx.GetStatus(dir); st.State != Indexed {
		t.Fatalf("expected Indexed after the notifier fires, got %+v", st)
	}
}

// S3 — batching boundary: two files producing 6 and 4 spans in quick
// succession result in exactly one batched embed call of size 10.
func TestIndexDirectoryBatchingBoundary(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "six.go", 6)
	writeGoFile(t, dir, "four.go", 4)

	counting := &countingProvider{Provider: embedding.NewFakeProvider(8)}
	idx := newTestIndex(t, counting, embedqueue.Config{BatchSpans: 10})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	mustNotify(t, j)

	sizes := counting.callSizes()
	if len(sizes) != 1 {
		t.Fatalf("expected exactly one batched embed call, got %d (%v)", len(sizes), sizes)
	}
	if sizes[0] != 10 {
		t.Fatalf("expected a batch of size 10, got %d", sizes[0])
	}
}

// S4 — re-index with deletion: after removing B from disk and re-indexing,
// only A and C remain.
func TestIndexDirectoryReindexWithDeletion(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "a.go", 1)
	pathB := writeGoFile(t, dir, "b.go", 1)
	writeGoFile(t, dir, "c.go", 1)

	idx := newTestIndex(t, embedding.NewFakeProvider(8), embedqueue.Config{})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	mustNotify(t, j)

	if err := os.Remove(pathB); err != nil {
		t.Fatalf("Remove(b.go): %v", err)
	}

	j2, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory (reindex): %v", err)
	}
	mustNotify(t, j2)

	absDir, _ := filepath.Abs(dir)
	dirID, err := idx.actor.GetOrCreateDirectory(ctx, absDir)
	if err != nil {
		t.Fatalf("GetOrCreateDirectory: %v", err)
	}
	known, err := idx.actor.GetFilesForDirectory(ctx, dirID)
	if err != nil {
		t.Fatalf("GetFilesForDirectory: %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("expected 2 files to remain, got %d: %v", len(known), known)
	}
	for path := range known {
		if filepath.Base(path) == "b.go" {
			t.Fatalf("expected b.go's rows to be gone, found %v", known)
		}
	}
}

// S6 — empty extension: a directory of only unregistered-extension files
// completes immediately with zero file rows.
func TestIndexDirectoryEmptyExtensionDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idx := newTestIndex(t, embedding.NewFakeProvider(8), embedqueue.Config{})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	mustNotify(t, j)

	if st := idx.GetStatus(dir); st.State != Indexed {
		t.Fatalf("expected Indexed for an all-unregistered-extension directory, got %+v", st)
	}

	absDir, _ := filepath.Abs(dir)
	dirID, err := idx.actor.GetOrCreateDirectory(ctx, absDir)
	if err != nil {
		t.Fatalf("GetOrCreateDirectory: %v", err)
	}
	known, err := idx.actor.GetFilesForDirectory(ctx, dirID)
	if err != nil {
		t.Fatalf("GetFilesForDirectory: %v", err)
	}
	if len(known) != 0 {
		t.Fatalf("expected zero file rows, got %d", len(known))
	}
}

// Law 6 — index -> search with a query equal to an indexed span's own text
// returns that span at rank 1.
func TestRoundTripLaw6ExactQueryRanksFirst(t *testing.T) {
	dir := t.TempDir()
	path := writeGoFile(t, dir, "ranked.go", 3)

	idx := newTestIndex(t, embedding.NewFakeProvider(8), embedqueue.Config{})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	mustNotify(t, j)

	registry := langspec.NewRegistry()
	docs, err := span.NewExtractor(registry).ExtractFile(ctx, path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 spans from the fixture file, got %d", len(docs))
	}

	target := docs[2]
	results, err := idx.SearchDirectory(ctx, dir, 10, target.Content)
	if err != nil {
		t.Fatalf("SearchDirectory: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].StartByte != target.StartByte || results[0].EndByte != target.EndByte {
		t.Fatalf("expected the exact-text span to rank first, got %+v, want range [%d, %d)",
			results[0], target.StartByte, target.EndByte)
	}
}

// Law 7 — re-indexing an unchanged directory produces byte-identical span
// rows and never calls the embedder, since every span's sha is cached.
func TestRoundTripLaw7UnchangedReindexSkipsEmbedder(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "stable.go", 1)

	counting := &countingProvider{Provider: embedding.NewFakeProvider(8)}
	idx := newTestIndex(t, counting, embedqueue.Config{FlushInterval: 10 * time.Millisecond})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	mustNotify(t, j)

	absDir, _ := filepath.Abs(dir)
	dirID, err := idx.actor.GetOrCreateDirectory(ctx, absDir)
	if err != nil {
		t.Fatalf("GetOrCreateDirectory: %v", err)
	}

	before, err := idx.actor.GetEmbeddingsForDirectory(ctx, dirID)
	if err != nil {
		t.Fatalf("GetEmbeddingsForDirectory: %v", err)
	}
	if len(before) == 0 {
		t.Fatal("expected at least one cached embedding after the first index")
	}
	callsBefore := len(counting.callSizes())
	if callsBefore == 0 {
		t.Fatal("expected the first index to call the embedder at least once")
	}

	j2, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory (reindex): %v", err)
	}
	mustNotify(t, j2)

	after, err := idx.actor.GetEmbeddingsForDirectory(ctx, dirID)
	if err != nil {
		t.Fatalf("GetEmbeddingsForDirectory: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected the same set of shas after an unchanged reindex, before=%d after=%d", len(before), len(after))
	}
	for sha, emb := range before {
		otherEmb, ok := after[sha]
		if !ok {
			t.Fatalf("sha %s missing after reindex", sha)
		}
		if len(emb) != len(otherEmb) {
			t.Fatalf("embedding for sha %s changed length: %d vs %d", sha, len(emb), len(otherEmb))
		}
	}

	callsAfter := len(counting.callSizes())
	if callsAfter != callsBefore {
		t.Fatalf("expected the unchanged reindex to make zero new embed calls, before=%d after=%d", callsBefore, callsAfter)
	}
}

// Law 8 — re-indexing a directory after a file is deleted on disk removes
// that file's rows.
func TestRoundTripLaw8DeletedFileRowsAreRemoved(t *testing.T) {
	dir := t.TempDir()
	keep := writeGoFile(t, dir, "keep.go", 1)
	gone := writeGoFile(t, dir, "gone.go", 1)

	idx := newTestIndex(t, embedding.NewFakeProvider(8), embedqueue.Config{})
	ctx := context.Background()

	j, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	mustNotify(t, j)

	if err := os.Remove(gone); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	j2, err := idx.IndexDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IndexDirectory (reindex): %v", err)
	}
	mustNotify(t, j2)

	absDir, _ := filepath.Abs(dir)
	dirID, err := idx.actor.GetOrCreateDirectory(ctx, absDir)
	if err != nil {
		t.Fatalf("GetOrCreateDirectory: %v", err)
	}
	known, err := idx.actor.GetFilesForDirectory(ctx, dirID)
	if err != nil {
		t.Fatalf("GetFilesForDirectory: %v", err)
	}
	if len(known) != 1 || !known[keep] {
		t.Fatalf("expected only %s to remain, got %v", keep, known)
	}
}

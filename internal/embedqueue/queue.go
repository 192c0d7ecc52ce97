// Package embedqueue implements the Embedding Queue (spec.md §4.3): a
// coalescing batcher that accepts Embed/Flush events, slices files' empty
// embedding slots into fragments of up to BatchSpans spans, issues one
// batched embed call per flush, scatters the returned vectors back into the
// right FileAggregate slots, and publishes files whose Complete() has just
// become true.
package embedqueue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/latticecode/semindex/internal/aggregate"
	"github.com/latticecode/semindex/internal/embedding"
)

// DefaultBatchSpans is BATCH_SPANS from the glossary: the fixed batching
// threshold at which the queue seals pending fragments and dispatches an
// embed call.
const DefaultBatchSpans = 10

// DefaultFlushInterval is the timer-driven flush task's receive timeout.
const DefaultFlushInterval = 250 * time.Millisecond

// fragment is a contiguous set of one FileAggregate's empty embedding slots,
// the unit of batching.
type fragment struct {
	file *aggregate.FileAggregate
	ids  []int
}

// Config tunes a Queue away from its spec.md defaults, primarily for tests
// that want a tiny BatchSpans or FlushInterval rather than waiting out the
// real 250ms timer.
type Config struct {
	Provider      embedding.Provider
	BatchSpans    int           // default DefaultBatchSpans
	FlushInterval time.Duration // default DefaultFlushInterval
	ChannelBound  int           // bound of the incoming embedding-job channel; default 10000
	FinishedBound int           // bound of the finished-files channel; default 10000
}

// Queue is the coalescing batcher. Construct with New, then Start to launch
// its two long-lived tasks (the timer-driven batching task and the embed
// worker — two of the four long-lived tasks spec.md §5 enumerates).
type Queue struct {
	provider      embedding.Provider
	batchSpans    int
	flushInterval time.Duration

	jobs     chan job
	finished chan *aggregate.FileAggregate

	flush *unboundedQueue

	mu      sync.Mutex
	pending []fragment
	size    int
}

type jobKind int

const (
	jobEmbed jobKind = iota
	jobFlush
)

type job struct {
	kind jobKind
	file *aggregate.FileAggregate
}

// New constructs a Queue. Call Start to begin processing.
func New(cfg Config) *Queue {
	batchSpans := cfg.BatchSpans
	if batchSpans <= 0 {
		batchSpans = DefaultBatchSpans
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	channelBound := cfg.ChannelBound
	if channelBound <= 0 {
		channelBound = 10000
	}
	finishedBound := cfg.FinishedBound
	if finishedBound <= 0 {
		finishedBound = 10000
	}

	return &Queue{
		provider:      cfg.Provider,
		batchSpans:    batchSpans,
		flushInterval: flushInterval,
		jobs:          make(chan job, channelBound),
		finished:      make(chan *aggregate.FileAggregate, finishedBound),
		flush:         newUnboundedQueue(),
	}
}

// Finished is the broadcast channel of FileAggregates whose Complete() has
// just become true. In this design there is exactly one subscriber (the
// Persistence Actor), so a plain buffered channel suffices; spec.md §9 notes
// the broadcast capability exists to let future observers subscribe without
// touching the embed worker.
func (q *Queue) Finished() <-chan *aggregate.FileAggregate {
	return q.finished
}

// Submit enqueues an Embed{file} event. Blocks if the embedding-job channel
// is at its bound, which is the backpressure spec.md §5 specifies flows
// upstream to the walker.
func (q *Queue) Submit(ctx context.Context, file *aggregate.FileAggregate) error {
	select {
	case q.jobs <- job{kind: jobEmbed, file: file}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishCompleted sends a FileAggregate straight to the finished channel,
// bypassing batching entirely. The parser task uses this for files that are
// already Complete() at construction time — every span's embedding was
// reused from a prior index via sha match, or the file has no spans at all
// (spec.md §6 "Directory re-indexing", §4.2 boundary case) — since such a
// file would never otherwise appear in Enqueue and so would never reach the
// embed worker's Complete() check.
func (q *Queue) PublishCompleted(ctx context.Context, file *aggregate.FileAggregate) error {
	select {
	case q.finished <- file:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the timer-driven batching task and the embed worker, and
// returns once ctx is cancelled (after draining what it can).
func (q *Queue) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.runTimerTask(ctx)
	}()
	go func() {
		defer wg.Done()
		q.runEmbedWorker(ctx)
	}()
	wg.Wait()
}

// runTimerTask is the timer-driven flush task of spec.md §4.3: it reads the
// main embedding channel with a flushInterval timeout. Every received
// message is forwarded to handleEvent. On a timeout, if at least one
// message has been forwarded since the last flush, it forwards an explicit
// Flush.
func (q *Queue) runTimerTask(ctx context.Context) {
	forwardedSinceFlush := false
	timer := time.NewTimer(q.flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.handleEvent(ctx, j)
			if j.kind == jobEmbed {
				forwardedSinceFlush = true
			} else {
				forwardedSinceFlush = false
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(q.flushInterval)
		case <-timer.C:
			if forwardedSinceFlush {
				q.handleEvent(ctx, job{kind: jobFlush})
				forwardedSinceFlush = false
			}
			timer.Reset(q.flushInterval)
		}
	}
}

// handleEvent implements the Enqueue and Flush algorithms of spec.md §4.3.
func (q *Queue) handleEvent(ctx context.Context, j job) {
	switch j.kind {
	case jobEmbed:
		q.enqueue(ctx, j.file)
	case jobFlush:
		q.doFlush()
	}
}

func (q *Queue) enqueue(ctx context.Context, file *aggregate.FileAggregate) {
	ids := file.DocumentIDs()

	q.mu.Lock()
	defer q.mu.Unlock()

	var current *fragment
	sealCurrent := func() {
		if current != nil {
			q.pending = append(q.pending, *current)
			current = nil
		}
	}

	for _, id := range ids {
		if current == nil {
			current = &fragment{file: file}
		}
		current.ids = append(current.ids, id)
		q.size++
		if q.size >= q.batchSpans {
			sealCurrent()
			q.doFlushLocked()
			q.size = 0
		}
	}
	sealCurrent()
}

// doFlush takes the pending list atomically and hands it to the embed
// worker via the unbounded flush queue.
func (q *Queue) doFlush() {
	q.mu.Lock()
	q.doFlushLocked()
	q.mu.Unlock()
}

func (q *Queue) doFlushLocked() {
	if len(q.pending) == 0 {
		return
	}
	batch := q.pending
	q.pending = nil
	q.flush.push(batch)
}

// runEmbedWorker is the embed worker of spec.md §4.3: the single long-lived
// task that drains flush batches, issues one batched embed call per batch,
// writes the returned vectors back, and publishes newly-complete files.
func (q *Queue) runEmbedWorker(ctx context.Context) {
	for {
		batch, ok := q.flush.pop(ctx)
		if !ok {
			return
		}
		q.embedBatch(ctx, batch)
	}
}

func (q *Queue) embedBatch(ctx context.Context, batch []fragment) {
	var texts []string
	for _, frag := range batch {
		docs := frag.file.Documents()
		for _, id := range frag.ids {
			texts = append(texts, docs[id].Content)
		}
	}
	if len(texts) == 0 {
		return
	}

	vectors, err := q.provider.Embed(ctx, texts)
	if err != nil {
		log.Printf("embedqueue: embed call failed for batch of %d spans: %v", len(texts), err)
		q.abandon(batch)
		return
	}
	if len(vectors) != len(texts) {
		log.Printf("embedqueue: embed call returned %d vectors for %d texts, dropping batch", len(vectors), len(texts))
		q.abandon(batch)
		return
	}

	cursor := 0
	for _, frag := range batch {
		for _, id := range frag.ids {
			frag.file.SetEmbedding(id, vectors[cursor])
			cursor++
		}
		if frag.file.Complete() {
			select {
			case q.finished <- frag.file:
			case <-ctx.Done():
				return
			}
		}
	}
}

// abandon implements the §9 SHOULD: an embed error drops every fragment in
// the failed batch, releasing each distinct file exactly once so the
// Directory Job counter is balanced immediately rather than leaking until
// the whole Directory Job is torn down.
func (q *Queue) abandon(batch []fragment) {
	seen := make(map[*aggregate.FileAggregate]bool, len(batch))
	for _, frag := range batch {
		if seen[frag.file] {
			continue
		}
		seen[frag.file] = true
		frag.file.Release()
	}
}

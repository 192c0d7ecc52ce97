package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/latticecode/semindex/internal/aggregate"
)

// NewInMemoryActor builds a Persistence Actor backed by an in-process map
// store instead of a live SurrealDB connection, running the same
// persist/dimension-validation/release logic as the real Actor. Tests use
// this to drive internal/semindex's façade end to end without a database;
// it is also a reasonable stand-in for local, offline smoke-checks.
func NewInMemoryActor(finished <-chan *aggregate.FileAggregate, dimension int) *Actor {
	return newActor(newMemoryBackend(), finished, dimension)
}

// memoryBackend is an in-memory stand-in for *Store. It follows
// CreateFileAndSpans' overwrite semantics and GetTopNeighbours' ranking
// (cosineSimilarity, descending score, ties by ascending span id), with its
// own copy of the ranking sort.
type memoryBackend struct {
	nextID int

	directories map[string]string // path -> id
	files       map[string]memoryFile
}

type memoryFile struct {
	id          string
	directoryID string
	path        string
	spans       []memorySpan
}

type memorySpan struct {
	id        string
	startByte int
	endByte   int
	sha       string
	embedding []float32
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		directories: make(map[string]string),
		files:       make(map[string]memoryFile),
	}
}

func (f *memoryBackend) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s:%d", prefix, f.nextID)
}

func (f *memoryBackend) GetOrCreateDirectory(ctx context.Context, path string) (string, error) {
	if id, ok := f.directories[path]; ok {
		return id, nil
	}
	id := f.genID("directory")
	f.directories[path] = id
	return id, nil
}

func (f *memoryBackend) CreateFileAndSpans(ctx context.Context, directoryID, path string, spans []spanInput) error {
	key := directoryID + "|" + path
	fileID := f.genID("file")
	out := make([]memorySpan, len(spans))
	for i, s := range spans {
		out[i] = memorySpan{
			id:        f.genID("span"),
			startByte: s.StartByte,
			endByte:   s.EndByte,
			sha:       s.SHA,
			embedding: s.Embedding,
		}
	}
	f.files[key] = memoryFile{id: fileID, directoryID: directoryID, path: path, spans: out}
	return nil
}

func (f *memoryBackend) DeleteFile(ctx context.Context, directoryID, path string) error {
	delete(f.files, directoryID+"|"+path)
	return nil
}

func (f *memoryBackend) GetFilesForDirectory(ctx context.Context, directoryID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, file := range f.files {
		if file.directoryID == directoryID {
			out[file.path] = true
		}
	}
	return out, nil
}

func (f *memoryBackend) GetEmbeddingsForDirectory(ctx context.Context, directoryID string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, file := range f.files {
		if file.directoryID != directoryID {
			continue
		}
		for _, sp := range file.spans {
			out[sp.sha] = sp.embedding
		}
	}
	return out, nil
}

func (f *memoryBackend) GetTopNeighbours(ctx context.Context, directoryPath string, queryEmbedding []float32, n int) ([]SearchResult, error) {
	dirID, ok := f.directories[directoryPath]
	if !ok {
		return nil, nil
	}
	if n <= 0 {
		n = 10
	}

	type scored struct {
		result SearchResult
		score  float64
	}
	var candidates []scored
	for _, file := range f.files {
		if file.directoryID != dirID {
			continue
		}
		for _, sp := range file.spans {
			if len(sp.embedding) != len(queryEmbedding) {
				continue
			}
			candidates = append(candidates, scored{
				result: SearchResult{
					ID:        sp.id,
					Path:      file.path,
					StartByte: sp.startByte,
					EndByte:   sp.endByte,
				},
				score: cosineSimilarity(queryEmbedding, sp.embedding),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].result.ID < candidates[j].result.ID
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]SearchResult, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].result
		out[i].Similarity = candidates[i].score
	}
	return out, nil
}

func (f *memoryBackend) RunMigrations(ctx context.Context) error {
	return nil
}

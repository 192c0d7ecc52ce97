// Package store implements the storage capability of spec.md §6 and the
// three persisted tables of §6 "Persisted state layout" — directory, file,
// span — against SurrealDB, in the teacher's transactional-query style
// (internal/graph/storage.go in the retrieval pack).
package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/surrealdb/surrealdb.go"
)

// Config holds connection parameters for the backing SurrealDB instance.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Span is one persisted span row.
type Span struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	StartByte int       `json:"start_byte"`
	EndByte   int       `json:"end_byte"`
	SHA       string    `json:"sha"`
	Embedding []float32 `json:"embedding"`
}

// SearchResult is one nearest-neighbour hit (spec.md §3).
type SearchResult struct {
	ID         string  `json:"id"`
	Path       string  `json:"path"`
	StartByte  int     `json:"start_byte"`
	EndByte    int     `json:"end_byte"`
	Similarity float64 `json:"similarity"`
}

// Store is the concrete storage capability. All mutation goes through the
// Persistence Actor (actor.go); Store itself has no concurrency control of
// its own — the actor's single-writer discipline is what makes that safe.
type Store struct {
	db        *surrealdb.DB
	namespace string
	database  string
}

// New connects to SurrealDB and selects the configured namespace/database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := surrealdb.New(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: connect to surrealdb: %w", err)
	}

	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, map[string]interface{}{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			return nil, fmt.Errorf("store: sign in: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("store: use namespace/database: %w", err)
	}

	return &Store{db: db, namespace: cfg.Namespace, database: cfg.Database}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

// RunMigrations defines the three tables and their indexes. Like the
// teacher's RunMigrations, "already exists" errors are swallowed — SurrealDB
// has no IF NOT EXISTS for DEFINE in the version this targets.
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`DEFINE TABLE directory SCHEMAFULL`,
		`DEFINE FIELD path ON directory TYPE string`,
		`DEFINE INDEX idx_directory_path ON directory FIELDS path UNIQUE`,

		`DEFINE TABLE file SCHEMAFULL`,
		`DEFINE FIELD directory_id ON file TYPE string`,
		`DEFINE FIELD path ON file TYPE string`,
		`DEFINE INDEX idx_file_dir_path ON file FIELDS directory_id, path UNIQUE`,
		`DEFINE INDEX idx_file_path ON file FIELDS path`,

		`DEFINE TABLE span SCHEMAFULL`,
		`DEFINE FIELD file_id ON span TYPE string`,
		`DEFINE FIELD start_byte ON span TYPE int`,
		`DEFINE FIELD end_byte ON span TYPE int`,
		`DEFINE FIELD sha ON span TYPE string`,
		`DEFINE FIELD embedding ON span TYPE array<float>`,
		`DEFINE INDEX idx_span_file ON span FIELDS file_id`,
		`DEFINE INDEX idx_span_sha ON span FIELDS sha`,
	}

	for _, m := range migrations {
		if _, err := surrealdb.Query[any](ctx, s.db, m, nil); err != nil {
			continue
		}
	}
	return nil
}

// GetOrCreateDirectory returns the existing id for path, or inserts a new
// directory row and returns its id.
func (s *Store) GetOrCreateDirectory(ctx context.Context, path string) (string, error) {
	query := `SELECT id FROM directory WHERE path = $path LIMIT 1`
	results, err := surrealdb.Query[[]struct {
		ID string `json:"id"`
	}](ctx, s.db, query, map[string]any{"path": path})
	if err != nil {
		return "", fmt.Errorf("store: query directory: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].ID, nil
	}

	insert := `CREATE directory SET path = $path`
	created, err := surrealdb.Query[[]struct {
		ID string `json:"id"`
	}](ctx, s.db, insert, map[string]any{"path": path})
	if err != nil {
		return "", fmt.Errorf("store: create directory: %w", err)
	}
	if created == nil || len(*created) == 0 || len((*created)[0].Result) == 0 {
		return "", fmt.Errorf("store: create directory returned no id for %s", path)
	}
	return (*created)[0].Result[0].ID, nil
}

// spanInput is one row to insert, matching the shape CreateFileAndSpans
// passes into the transaction's FOR loop.
type spanInput struct {
	StartByte int       `json:"start_byte"`
	EndByte   int       `json:"end_byte"`
	SHA       string    `json:"sha"`
	Embedding []float32 `json:"embedding"`
}

// CreateFileAndSpans implements spec.md §4.5's overwrite semantics: delete
// all spans and the file row matching path, insert a fresh file row linked
// to directoryID, then insert one span row per input, linked to the new
// file. The whole sequence runs in one transaction.
func (s *Store) CreateFileAndSpans(ctx context.Context, directoryID, path string, spans []spanInput) error {
	query := `
		BEGIN TRANSACTION;
		LET $old = (SELECT id FROM file WHERE directory_id = $dirID AND path = $path);
		DELETE span WHERE file_id IN $old.id;
		DELETE file WHERE directory_id = $dirID AND path = $path;
		LET $newFile = (CREATE file SET directory_id = $dirID, path = $path);
		FOR $s IN $spans {
			CREATE span SET
				file_id = $newFile[0].id,
				start_byte = $s.start_byte,
				end_byte = $s.end_byte,
				sha = $s.sha,
				embedding = $s.embedding;
		};
		COMMIT TRANSACTION;
	`
	spanData := make([]spanInput, len(spans))
	copy(spanData, spans)

	_, err := surrealdb.Query[any](ctx, s.db, query, map[string]any{
		"dirID": directoryID,
		"path":  path,
		"spans": spanData,
	})
	if err != nil {
		return fmt.Errorf("store: create file and spans for %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file row and its spans for path within directoryID.
func (s *Store) DeleteFile(ctx context.Context, directoryID, path string) error {
	query := `
		BEGIN TRANSACTION;
		LET $old = (SELECT id FROM file WHERE directory_id = $dirID AND path = $path);
		DELETE span WHERE file_id IN $old.id;
		DELETE file WHERE directory_id = $dirID AND path = $path;
		COMMIT TRANSACTION;
	`
	_, err := surrealdb.Query[any](ctx, s.db, query, map[string]any{
		"dirID": directoryID,
		"path":  path,
	})
	if err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}
	return nil
}

// GetFilesForDirectory returns the set of known file paths under
// directoryID, used by the walker to detect files deleted on disk.
func (s *Store) GetFilesForDirectory(ctx context.Context, directoryID string) (map[string]bool, error) {
	query := `SELECT path FROM file WHERE directory_id = $dirID`
	results, err := surrealdb.Query[[]struct {
		Path string `json:"path"`
	}](ctx, s.db, query, map[string]any{"dirID": directoryID})
	if err != nil {
		return nil, fmt.Errorf("store: list files for directory: %w", err)
	}
	out := make(map[string]bool)
	if results != nil && len(*results) > 0 {
		for _, f := range (*results)[0].Result {
			out[f.Path] = true
		}
	}
	return out, nil
}

// GetEmbeddingsForDirectory returns a sha → embedding map across every span
// already stored under directoryID, so re-indexing can reuse embeddings for
// spans whose content is unchanged (spec.md §6 "Directory re-indexing").
func (s *Store) GetEmbeddingsForDirectory(ctx context.Context, directoryID string) (map[string][]float32, error) {
	query := `
		SELECT sha, embedding FROM span
		WHERE file_id IN (SELECT VALUE id FROM file WHERE directory_id = $dirID)
	`
	results, err := surrealdb.Query[[]struct {
		SHA       string    `json:"sha"`
		Embedding []float32 `json:"embedding"`
	}](ctx, s.db, query, map[string]any{"dirID": directoryID})
	if err != nil {
		return nil, fmt.Errorf("store: list embeddings for directory: %w", err)
	}
	out := make(map[string][]float32)
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			out[row.SHA] = row.Embedding
		}
	}
	return out, nil
}

// GetTopNeighbours returns the top-n spans under directoryPath ranked by
// cosine similarity to queryEmbedding, descending, ties broken by span id
// ascending (spec.md §4.5).
//
// Similarity is computed in Go over rows fetched from the store, the way
// the teacher's SemanticSearch does, rather than relying on a server-side
// vector function that may not be available on every SurrealDB deployment.
func (s *Store) GetTopNeighbours(ctx context.Context, directoryPath string, queryEmbedding []float32, n int) ([]SearchResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("store: query embedding is empty")
	}
	if n <= 0 {
		n = 10
	}

	// Resolve directory -> files -> spans as three queries rather than one
	// join, the way the teacher's resolveNodeID/findNodeByID helpers do,
	// since SurrealDB's cross-table LET chaining varies across versions.
	dirRows, err := surrealdb.Query[[]struct {
		ID string `json:"id"`
	}](ctx, s.db, `SELECT id FROM directory WHERE path = $path LIMIT 1`, map[string]any{"path": directoryPath})
	if err != nil {
		return nil, fmt.Errorf("store: resolve directory: %w", err)
	}
	if dirRows == nil || len(*dirRows) == 0 || len((*dirRows)[0].Result) == 0 {
		return nil, nil
	}
	dirID := (*dirRows)[0].Result[0].ID

	fileRows, err := surrealdb.Query[[]struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	}](ctx, s.db, `SELECT id, path FROM file WHERE directory_id = $dirID`, map[string]any{"dirID": dirID})
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	if fileRows == nil || len(*fileRows) == 0 {
		return nil, nil
	}

	pathByFileID := make(map[string]string, len((*fileRows)[0].Result))
	fileIDs := make([]string, 0, len((*fileRows)[0].Result))
	for _, f := range (*fileRows)[0].Result {
		pathByFileID[f.ID] = f.Path
		fileIDs = append(fileIDs, f.ID)
	}
	if len(fileIDs) == 0 {
		return nil, nil
	}

	spanRows, err := surrealdb.Query[[]Span](ctx, s.db, `SELECT * FROM span WHERE file_id IN $fileIDs`, map[string]any{"fileIDs": fileIDs})
	if err != nil {
		return nil, fmt.Errorf("store: list spans: %w", err)
	}
	if spanRows == nil || len(*spanRows) == 0 {
		return nil, nil
	}

	type scored struct {
		result SearchResult
		score  float64
	}
	var candidates []scored
	for _, sp := range (*spanRows)[0].Result {
		if len(sp.Embedding) != len(queryEmbedding) {
			continue
		}
		sim := cosineSimilarity(queryEmbedding, sp.Embedding)
		candidates = append(candidates, scored{
			result: SearchResult{
				ID:        sp.ID,
				Path:      pathByFileID[sp.FileID],
				StartByte: sp.StartByte,
				EndByte:   sp.EndByte,
			},
			score: sim,
		})
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

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

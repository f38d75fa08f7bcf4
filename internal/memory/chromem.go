package memory

import (
	"context"
	"fmt"
	"os"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
)

// ChromemStore is an embedded, file-backed store for machines without a
// Qdrant server.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) a persistent database at path.
func NewChromemStore(path, collection string, compress bool, embedder embeddings.Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database: %w", err)
	}
	return newChromemStore(db, collection, embeddingFunc(embedder), logger)
}

func newChromemStore(db *chromem.DB, collection string, embed chromem.EmbeddingFunc, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	col, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", collection, err)
	}
	return &ChromemStore{db: db, collection: col, logger: logger}, nil
}

func embeddingFunc(embedder embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}

// RetrieveContext queries at most min(limit, count) documents.
func (s *ChromemStore) RetrieveContext(ctx context.Context, query string, limit int) (string, error) {
	n := min(limit, s.collection.Count())
	if n <= 0 {
		return "", nil
	}

	results, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return "", fmt.Errorf("querying memory: %w", err)
	}

	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = Document{
			ID:       r.ID,
			Path:     r.Metadata["path"],
			Filename: r.Metadata["filename"],
			Type:     r.Metadata["type"],
			Content:  r.Content,
		}
	}
	s.logger.Debug("retrieved memory context", zap.Int("hits", len(docs)))
	return FormatContext(docs), nil
}

// Index adds docs. Re-indexing an ID replaces the stored document.
func (s *ChromemStore) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]chromem.Document, len(docs))
	for i, d := range docs {
		batch[i] = chromem.Document{
			ID:      d.ID,
			Content: d.Content,
			Metadata: map[string]string{
				"path":     d.Path,
				"filename": d.Filename,
				"type":     d.Type,
			},
		}
	}
	if err := s.collection.AddDocuments(ctx, batch, 4); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Close is a no-op; the persistent database writes through on every add.
func (s *ChromemStore) Close() error {
	return nil
}

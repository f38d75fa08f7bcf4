package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sanvibhowmick/forge/internal/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
)

const embedBatchSize = 32

// QdrantStore keeps documents in a Qdrant collection, creating it on first
// use.
type QdrantStore struct {
	client     qdrant.Client
	embedder   embeddings.Embedder
	collection string
	vectorSize uint64
	logger     *zap.Logger

	mu    sync.Mutex
	ready bool
}

// NewQdrantStore wraps client. vectorSize must match the embedder.
func NewQdrantStore(client qdrant.Client, embedder embeddings.Embedder, collection string, vectorSize uint64, logger *zap.Logger) (*QdrantStore, error) {
	if client == nil || embedder == nil {
		return nil, fmt.Errorf("qdrant client and embedder are required")
	}
	if collection == "" || vectorSize == 0 {
		return nil, fmt.Errorf("collection name and vector size are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		client:     client,
		embedder:   embedder,
		collection: collection,
		vectorSize: vectorSize,
		logger:     logger,
	}, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if !exists {
		s.logger.Info("creating memory collection",
			zap.String("collection", s.collection),
			zap.Uint64("vector_size", s.vectorSize))
		if err := s.client.CreateCollection(ctx, s.collection, s.vectorSize); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

// RetrieveContext embeds query and returns the closest documents.
func (s *QdrantStore) RetrieveContext(ctx context.Context, query string, limit int) (string, error) {
	if limit <= 0 {
		return "", nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return "", fmt.Errorf("preparing memory collection: %w", err)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embedding query: %w", err)
	}

	hits, err := s.client.Search(ctx, s.collection, vector, uint64(limit))
	if err != nil {
		return "", fmt.Errorf("searching memory: %w", err)
	}

	docs := make([]Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, documentFromPayload(h.ID, h.Payload))
	}
	s.logger.Debug("retrieved memory context", zap.Int("hits", len(docs)))
	return FormatContext(docs), nil
}

// Index embeds and upserts docs in batches.
func (s *QdrantStore) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return fmt.Errorf("preparing memory collection: %w", err)
	}

	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = embeddingText(d)
		}
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding documents: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(batch))
		}

		points := make([]*qdrant.Point, len(batch))
		for i, d := range batch {
			points[i] = &qdrant.Point{
				ID:     d.ID,
				Vector: vectors[i],
				Payload: map[string]interface{}{
					"path":     d.Path,
					"filename": d.Filename,
					"content":  d.Content,
					"type":     d.Type,
				},
			}
		}
		if err := s.client.Upsert(ctx, s.collection, points); err != nil {
			return fmt.Errorf("upserting documents: %w", err)
		}
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func documentFromPayload(id string, payload map[string]interface{}) Document {
	str := func(k string) string {
		v, _ := payload[k].(string)
		return v
	}
	return Document{
		ID:       id,
		Path:     str("path"),
		Filename: str("filename"),
		Content:  str("content"),
		Type:     str("type"),
	}
}

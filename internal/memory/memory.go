// Package memory gives the design stage read access to existing repository
// content through vector similarity search.
package memory

import (
	"context"
	"fmt"
	"strings"
)

// Retriever returns formatted context for a query. An empty or missing
// store yields "" and no error.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string, limit int) (string, error)
}

// Indexer stores documents for later retrieval.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}

// Store is a retriever that can also be written to.
type Store interface {
	Retriever
	Indexer
	Close() error
}

// Document is one ingested file.
type Document struct {
	ID       string
	Path     string
	Filename string
	Content  string
	Type     string // code or docs
}

const contextSeparator = "\n\n---\n\n"

// FormatContext renders documents as FILE/CONTENT blocks.
func FormatContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	blocks := make([]string, len(docs))
	for i, d := range docs {
		blocks[i] = fmt.Sprintf("FILE: %s\nCONTENT:\n%s", d.Path, d.Content)
	}
	return strings.Join(blocks, contextSeparator)
}

// Nop is a store with nothing in it.
type Nop struct{}

func (Nop) RetrieveContext(context.Context, string, int) (string, error) { return "", nil }
func (Nop) Index(context.Context, []Document) error                      { return nil }
func (Nop) Close() error                                                 { return nil }

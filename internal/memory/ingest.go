package memory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sanvibhowmick/forge/internal/ignore"
	"go.uber.org/zap"
)

// skipDirs are never descended into, whatever the ignore files say.
var skipDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"venv":         true,
	"node_modules": true,
}

var ingestExtensions = map[string]string{
	".py":   "code",
	".md":   "docs",
	".txt":  "docs",
	".json": "docs",
}

// IngestOptions tunes a directory ingestion.
type IngestOptions struct {
	// MaxFileSize skips larger files. Default 1 MiB.
	MaxFileSize int64
	// BatchSize is the number of documents per Index call. Default 32.
	BatchSize int
	// IgnoreFiles are gitignore-style files read from the root.
	IgnoreFiles []string
}

// IngestResult summarizes an ingestion.
type IngestResult struct {
	Root    string
	Indexed int
	Skipped int
}

// Ingest walks root and indexes every code and documentation file.
func Ingest(ctx context.Context, root string, idx Indexer, opts IngestOptions, logger *zap.Logger) (*IngestResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 1 << 20
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = embedBatchSize
	}
	if opts.IgnoreFiles == nil {
		opts.IgnoreFiles = []string{".gitignore", ".forgeignore"}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path must be a directory: %s", abs)
	}

	matcher, err := ignore.NewParser(opts.IgnoreFiles, nil).ParseProject(abs)
	if err != nil {
		return nil, fmt.Errorf("reading ignore files: %w", err)
	}

	result := &IngestResult{Root: abs}
	var batch []Document
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.Index(ctx, batch); err != nil {
			return err
		}
		result.Indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p != abs && (skipDirs[d.Name()] || matcher.Match(rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}
		docType, ok := ingestExtensions[strings.ToLower(filepath.Ext(d.Name()))]
		if !ok || !d.Type().IsRegular() || matcher.Match(rel, false) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > opts.MaxFileSize {
			result.Skipped++
			logger.Debug("skipping large file", zap.String("path", rel), zap.Int64("size", fi.Size()))
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		if !utf8.Valid(content) || len(strings.TrimSpace(string(content))) == 0 {
			result.Skipped++
			return nil
		}

		batch = append(batch, Document{
			ID:       DocumentID(p),
			Path:     rel,
			Filename: d.Name(),
			Content:  string(content),
			Type:     docType,
		})
		logger.Debug("ingesting file", zap.String("path", rel))
		if len(batch) >= opts.BatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return result, fmt.Errorf("ingesting %s: %w", abs, err)
	}

	logger.Info("ingestion complete",
		zap.String("root", abs),
		zap.Int("indexed", result.Indexed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// DocumentID derives a stable point ID from a file path.
func DocumentID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}

func embeddingText(d Document) string {
	const maxChars = 24000
	text := "FILE: " + d.Path + "\n" + d.Content
	if len(text) > maxChars {
		text = strings.ToValidUTF8(text[:maxChars], "")
	}
	return text
}

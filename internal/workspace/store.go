// Package workspace manages the artifact root: the file tree the pipeline
// builds. The store is owned by a single pipeline goroutine and does no
// locking of its own.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sanvibhowmick/forge/internal/domain"
	"go.uber.org/zap"
)

// SpecFileName is where the design stage persists the specification.
const SpecFileName = "spec.json"

// Directories that are never part of the project as far as listings and
// reviewers are concerned.
var skipDirs = map[string]bool{
	".git":          true,
	"__pycache__":   true,
	".pytest_cache": true,
}

// ErrNotFound is returned by Read for a missing file.
var ErrNotFound = errors.New("artifact not found")

// Store is the artifact store rooted at a single directory.
type Store struct {
	root    string
	logger  *zap.Logger
	history *History
	track   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistory enables git snapshots of the tree.
func WithHistory(enabled bool) Option {
	return func(s *Store) {
		s.track = enabled
	}
}

// NewStore creates a store rooted at root. The directory is created if it
// does not exist yet.
func NewStore(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	s := &Store{root: abs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return s, nil
}

// Root returns the absolute path of the artifact root.
func (s *Store) Root() string {
	return s.root
}

// Reset wipes the tree and recreates an empty root. Calling it twice in a
// row leaves the same state as calling it once.
func (s *Store) Reset() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	s.history = nil
	s.logger.Info("workspace initialized", zap.String("root", s.root))
	return nil
}

// resolve maps a relative artifact path to an absolute path inside root.
func (s *Store) resolve(rel string) (string, string, error) {
	clean, err := domain.CleanRelativePath(rel)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))

	r, err := filepath.Rel(s.root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", domain.ErrPathEscapesRoot, rel)
	}

	// A symlinked parent could still point outside the root.
	if parent, err := filepath.EvalSymlinks(filepath.Dir(full)); err == nil {
		rootReal, rerr := filepath.EvalSymlinks(s.root)
		if rerr == nil {
			pr, perr := filepath.Rel(rootReal, parent)
			if perr != nil || pr == ".." || strings.HasPrefix(pr, ".."+string(filepath.Separator)) {
				return "", "", fmt.Errorf("%w: %q resolves through a symlink", domain.ErrPathEscapesRoot, rel)
			}
		}
	}
	return clean, full, nil
}

// Write stores content at rel, creating parent directories. It returns the
// cleaned relative path.
func (s *Store) Write(rel, content string) (string, error) {
	clean, full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating parent of %s: %w", clean, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", clean, err)
	}
	s.logger.Debug("artifact written", zap.String("path", clean), zap.Int("bytes", len(content)))
	return clean, nil
}

// Apply writes every entry in order. Later writes to the same path win.
func (s *Store) Apply(writes []domain.ArtifactWrite) error {
	for _, w := range writes {
		if _, err := s.Write(w.Path, w.Content); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the content stored at rel.
func (s *Store) Read(rel string) (string, error) {
	clean, full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return "", fmt.Errorf("reading %s: %w", clean, err)
	}
	return string(data), nil
}

// Exists reports whether rel names a regular file in the tree.
func (s *Store) Exists(rel string) bool {
	_, full, err := s.resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// Files returns every file in the tree as sorted slash-separated relative
// paths, skipping VCS and cache directories.
func (s *Store) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Tree renders the tree with four spaces of indent per level. Directories
// end in a slash and list their files before their subdirectories.
func (s *Store) Tree() (string, error) {
	var lines []string
	if err := s.renderDir(s.root, 0, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Store) renderDir(dir string, level int, lines *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	indent := strings.Repeat(" ", 4*level)
	*lines = append(*lines, indent+filepath.Base(dir)+"/")

	sub := strings.Repeat(" ", 4*(level+1))
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			if !skipDirs[e.Name()] {
				dirs = append(dirs, e.Name())
			}
			continue
		}
		*lines = append(*lines, sub+e.Name())
	}
	for _, name := range dirs {
		if err := s.renderDir(filepath.Join(dir, name), level+1, lines); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot records the current tree as a commit when history is enabled.
// It returns the commit hash, or "" when history is disabled.
func (s *Store) Snapshot(message string) (string, error) {
	if !s.track {
		return "", nil
	}
	if s.history == nil {
		h, err := OpenHistory(s.root)
		if err != nil {
			return "", err
		}
		s.history = h
	}
	return s.history.Snapshot(message)
}

// History returns the snapshot history, or nil when disabled or empty.
func (s *Store) History() *History {
	return s.history
}

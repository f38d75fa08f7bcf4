package workspace

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// snapshotAuthor signs every snapshot commit.
var snapshotAuthor = object.Signature{
	Name:  "forge",
	Email: "forge@localhost",
}

// History keeps a local git repository inside the artifact root so every
// build and review round can be inspected afterwards.
type History struct {
	repo *git.Repository
}

// Snapshot is one recorded state of the tree.
type Snapshot struct {
	Hash    string
	Message string
	When    time.Time
}

// OpenHistory opens the repository at root, initializing it if needed.
func OpenHistory(root string) (*History, error) {
	repo, err := git.PlainInit(root, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		repo, err = git.PlainOpen(root)
	}
	if err != nil {
		return nil, fmt.Errorf("opening workspace history: %w", err)
	}
	return &History{repo: repo}, nil
}

// Snapshot stages the whole tree and commits it.
func (h *History) Snapshot(message string) (string, error) {
	wt, err := h.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("staging snapshot: %w", err)
	}

	sig := snapshotAuthor
	sig.When = time.Now()
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:            &sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("committing snapshot: %w", err)
	}
	return hash.String(), nil
}

// Log returns snapshots newest first.
func (h *History) Log() ([]Snapshot, error) {
	iter, err := h.repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer iter.Close()

	var out []Snapshot
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, Snapshot{
			Hash:    c.Hash.String(),
			Message: c.Message,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking history: %w", err)
	}
	return out, nil
}

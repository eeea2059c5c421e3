// Package gitrepo keeps a revision history of each review's content as a
// git repository with a single tracked file, content.json.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"redline/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "content.json"
	mainBranch  = "main"
)

var ErrNoRepo = errors.New("review has no history")

// Content is the tracked state of a review at one revision.
type Content struct {
	AnalysisID string   `json:"analysisId"`
	ViewMode   string   `json:"viewMode"`
	Content    string   `json:"content"`
	Edited     bool     `json:"edited,omitempty"`
	FixedIDs   []string `json:"fixedIssueIds,omitempty"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records content as the new head of the review's history, creating
// the repository on first use. When content equals the current head nothing
// is committed and the head commit is returned with committed=false.
func (s *Service) Commit(reviewID string, content Content, author, message string) (store.CommitInfo, bool, error) {
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(reviewID)
	if err != nil {
		return store.CommitInfo{}, false, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readContentFromCommit(head)
		if err == nil && !HasChanges(current, content) {
			return toCommitInfo(head), false, nil
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return store.CommitInfo{}, false, err
	}

	hash, err := writeAndCommit(repo, content, author, message)
	if err != nil {
		return store.CommitInfo{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

func (s *Service) GetHeadContent(reviewID string) (Content, store.CommitInfo, error) {
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(reviewID)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

func (s *Service) GetContentByHash(reviewID, hash string) (Content, error) {
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(reviewID)
	if err != nil {
		return Content{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

// History lists commits newest first with per-commit line stats.
func (s *Service) History(reviewID string, limit int) ([]store.CommitInfo, error) {
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(reviewID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		info := toCommitInfo(commitObj)
		if stats, err := commitObj.Stats(); err == nil {
			for _, st := range stats {
				info.Added += st.Addition
				info.Removed += st.Deletion
			}
		}
		items = append(items, info)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Remove deletes a review's repository. Missing repositories are ignored.
func (s *Service) Remove(reviewID string) error {
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(reviewID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(reviewID string) string {
	return filepath.Join(s.baseDir, reviewID)
}

func (s *Service) reviewLock(reviewID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[reviewID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[reviewID] = lock
	return lock
}

func (s *Service) open(reviewID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(reviewID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRepo
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(reviewID string) (*git.Repository, error) {
	path := s.repoPath(reviewID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func writeAndCommit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.redline.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}

	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// HasChanges reports whether two revisions differ in anything tracked.
func HasChanges(from, to Content) bool {
	if from.AnalysisID != to.AnalysisID ||
		from.ViewMode != to.ViewMode ||
		from.Content != to.Content ||
		from.Edited != to.Edited ||
		len(from.FixedIDs) != len(to.FixedIDs) {
		return true
	}
	for i := range from.FixedIDs {
		if from.FixedIDs[i] != to.FixedIDs[i] {
			return true
		}
	}
	return false
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

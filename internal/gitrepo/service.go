// Package gitrepo keeps a git history of every role section. Each committed
// write becomes one commit of section.json in a repository per section.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

const sectionFile = "section.json"

var (
	// ErrNoHistory means nothing was ever recorded for the section.
	ErrNoHistory = errors.New("no history recorded")
	// ErrUnknownRevision means the hash names no commit of the section.
	ErrUnknownRevision = errors.New("unknown revision")
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"shortHash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
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

// Record commits the section snapshot. op names the operation that produced
// it and ends up in the commit message.
func (s *Service) Record(section store.RoleSection, author, op string) (CommitInfo, error) {
	if !validID(section.RoleSectionID) {
		return CommitInfo{}, fmt.Errorf("invalid role section id %q", section.RoleSectionID)
	}
	lock := s.sectionLock(section.RoleSectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(section.RoleSectionID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(section, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal section: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), sectionFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", sectionFile, err)
	}
	if _, err := worktree.Add(sectionFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add section: %w", err)
	}

	message := fmt.Sprintf("%s: version %d\n\nactor=%s", op, section.Version, section.LastEditedBy)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@history.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit section: %w", err)
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return CommitInfo{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return CommitInfo{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits newest first. A limit of zero means all.
func (s *Service) History(sectionID string, limit int) ([]CommitInfo, error) {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(sectionID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
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

// SnapshotAt returns the section as recorded by the commit hash, which may be
// abbreviated.
func (s *Service) SnapshotAt(sectionID, hash string) (store.RoleSection, CommitInfo, error) {
	lock := s.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(sectionID)
	if err != nil {
		return store.RoleSection{}, CommitInfo{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return store.RoleSection{}, CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return store.RoleSection{}, CommitInfo{}, ErrUnknownRevision
	}
	if err != nil {
		return store.RoleSection{}, CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	section, err := readSectionFromCommit(commitObj)
	if err != nil {
		return store.RoleSection{}, CommitInfo{}, err
	}
	return section, toCommitInfo(commitObj), nil
}

// ChangedFields lists the top-level fields whose content differs between two
// snapshots, sorted by name. Bookkeeping fields are ignored.
func ChangedFields(from, to store.RoleSection) ([]string, error) {
	before, err := fieldsOf(from)
	if err != nil {
		return nil, err
	}
	after, err := fieldsOf(to)
	if err != nil {
		return nil, err
	}
	changed := make([]string, 0)
	seen := make(map[string]bool, len(before))
	for name, value := range before {
		seen[name] = true
		if !bytes.Equal(value, after[name]) {
			changed = append(changed, name)
		}
	}
	for name := range after {
		if !seen[name] {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

var bookkeeping = map[string]bool{"version": true, "updatedAt": true, "lastEditedBy": true}

func fieldsOf(section store.RoleSection) (map[string][]byte, error) {
	section.Normalize()
	raw, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("marshal section: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode section fields: %w", err)
	}
	out := make(map[string][]byte, len(fields))
	for name, value := range fields {
		if bookkeeping[name] {
			continue
		}
		out[name] = value
	}
	return out, nil
}

func (s *Service) repoPath(sectionID string) string {
	return filepath.Join(s.baseDir, sectionID)
}

func (s *Service) open(sectionID string) (*git.Repository, error) {
	if !validID(sectionID) {
		return nil, ErrNoHistory
	}
	repo, err := git.PlainOpen(s.repoPath(sectionID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(sectionID string) (*git.Repository, bool, error) {
	path := s.repoPath(sectionID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, false, fmt.Errorf("open repo: %w", err)
		}
		return repo, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) sectionLock(sectionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[sectionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[sectionID] = lock
	return lock
}

func readSectionFromCommit(commitObj *object.Commit) (store.RoleSection, error) {
	file, err := commitObj.File(sectionFile)
	if err != nil {
		return store.RoleSection{}, fmt.Errorf("load %s from commit: %w", sectionFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return store.RoleSection{}, fmt.Errorf("open section reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return store.RoleSection{}, fmt.Errorf("read section bytes: %w", err)
	}
	var section store.RoleSection
	if err := json.Unmarshal(raw, &section); err != nil {
		return store.RoleSection{}, fmt.Errorf("decode commit section: %w", err)
	}
	section.Normalize()
	return section, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	hash := commitObj.Hash.String()
	return CommitInfo{
		Hash:      hash,
		ShortHash: hash[:7],
		Message:   strings.TrimSpace(commitObj.Message),
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

// validID keeps section ids from escaping baseDir.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, ErrUnknownRevision
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

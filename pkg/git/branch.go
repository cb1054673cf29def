// Package git provides Git repository layout utilities for cadence.
//
// This package locates the git directory of a working tree, resolves the
// common directory shared by linked worktrees, and reads the current branch
// straight from HEAD. It is the fallback path when the object database
// cannot be opened, and the place where cadence finds a home for its
// per-repository state.
package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotGitRepo indicates the directory is not inside a Git repository
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrHeadNotFound indicates the HEAD file is missing
	ErrHeadNotFound = errors.New("HEAD file not found")

	// ErrDetachedHead indicates HEAD does not point at a branch
	ErrDetachedHead = errors.New("HEAD is detached")
)

// Layout describes where a working tree keeps its git metadata.
type Layout struct {
	// WorkTree is the top-level directory of the checked-out tree.
	WorkTree string

	// GitDir holds HEAD and the index for this working tree. For a linked
	// worktree it lives under <common>/worktrees/<name>.
	GitDir string

	// CommonDir holds objects, refs and config shared by all worktrees.
	// Equal to GitDir for the main working tree.
	CommonDir string
}

// MainWorkTree returns the working tree that owns CommonDir.
//
// For non-bare repositories this is the parent of the common .git directory,
// which stays stable across linked worktrees.
func (l *Layout) MainWorkTree() string {
	if filepath.Base(l.CommonDir) == ".git" {
		return filepath.Dir(l.CommonDir)
	}
	return l.WorkTree
}

// Discover walks up from start until it finds a .git entry.
//
// Both main repositories (.git directory) and linked worktrees (.git file
// containing "gitdir: <path>") are supported.
func Discover(start string) (*Layout, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", start, err)
	}

	for {
		layout, err := layoutAt(dir)
		if err == nil {
			return layout, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, start)
		}
		dir = parent
	}
}

func layoutAt(dir string) (*Layout, error) {
	gitPath := filepath.Join(dir, ".git")

	info, err := os.Stat(gitPath)
	if err != nil {
		return nil, err
	}

	// Main repository: .git is a directory
	if info.IsDir() {
		return &Layout{WorkTree: dir, GitDir: gitPath, CommonDir: gitPath}, nil
	}

	// Worktree: .git is a file containing "gitdir: <path>"
	content, err := os.ReadFile(gitPath)
	if err != nil {
		return nil, fmt.Errorf("reading .git file: %w", err)
	}

	gitDir := parseGitDir(string(content))
	if gitDir == "" {
		return nil, fmt.Errorf("%w: invalid .git file format in %s", ErrNotGitRepo, dir)
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(dir, gitDir)
	}

	return &Layout{WorkTree: dir, GitDir: gitDir, CommonDir: commonDir(gitDir)}, nil
}

// commonDir resolves the "commondir" file of a linked worktree's git dir.
func commonDir(gitDir string) string {
	content, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if err != nil {
		return gitDir
	}
	common := strings.TrimSpace(string(content))
	if common == "" {
		return gitDir
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitDir, common)
	}
	return filepath.Clean(common)
}

// parseGitDir parses the .git file content to extract the gitdir path.
//
// Expected format: "gitdir: /path/to/git/directory\n"
func parseGitDir(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "gitdir:") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(content, "gitdir:"))
}

// DetectBranch reads the current branch from the HEAD file in gitDir.
//
// Returns ErrDetachedHead when HEAD holds a commit hash or is empty.
func DetectBranch(gitDir string) (string, error) {
	headFile := filepath.Join(gitDir, "HEAD")
	content, err := os.ReadFile(headFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrHeadNotFound, headFile)
		}
		return "", fmt.Errorf("reading HEAD file: %w", err)
	}

	head := strings.TrimSpace(string(content))
	if strings.HasPrefix(head, "ref: refs/heads/") {
		return strings.TrimPrefix(head, "ref: refs/heads/"), nil
	}

	return "", ErrDetachedHead
}

// IsMainBranch checks if the given branch name is a main branch.
func IsMainBranch(branch string) bool {
	return branch == "main" || branch == "master"
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"

	gitlayout "github.com/fyrsmithlabs/cadence/pkg/git"
)

// hookMarker identifies hook scripts written by cadence.
const hookMarker = "# installed by cadence"

var (
	installForce bool
)

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().BoolVar(&installForce, "force", false, "replace an existing post-commit hook")
}

// installCmd writes the post-commit hook
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install cadence as the repository's post-commit hook",
	Long: `Write a post-commit hook that runs "cadence post-commit" after every
commit. core.hooksPath is honored. An existing hook that cadence did not
write is left alone unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, _ []string) error {
	dir, err := hooksDir(repoDir)
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	path, err := installHook(dir, exe, configPath, installForce)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", path)
	return nil
}

// hooksDir returns the hooks directory of the repository containing dir.
func hooksDir(dir string) (string, error) {
	layout, err := gitlayout.Discover(dir)
	if err != nil {
		return "", err
	}

	repo, err := git.PlainOpenWithOptions(layout.WorkTree, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err == nil {
		if cfg, err := repo.Config(); err == nil {
			if p := cfg.Raw.Section("core").Option("hooksPath"); p != "" {
				if !filepath.IsAbs(p) {
					p = filepath.Join(layout.WorkTree, p)
				}
				return p, nil
			}
		}
	}
	return filepath.Join(layout.CommonDir, "hooks"), nil
}

// installHook writes the post-commit script into dir and returns its path.
func installHook(dir, exe, cfgPath string, force bool) (string, error) {
	path := filepath.Join(dir, "post-commit")

	existing, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return "", fmt.Errorf("reading existing hook: %w", err)
	case !strings.Contains(string(existing), hookMarker) && !force:
		return "", fmt.Errorf("%s already exists and was not written by cadence (use --force)", path)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating hooks directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hookScript(exe, cfgPath)), 0o755); err != nil {
		return "", fmt.Errorf("writing hook: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o755); err != nil {
		return "", fmt.Errorf("making hook executable: %w", err)
	}
	return path, nil
}

// hookScript never fails the commit, even when the binary has moved.
func hookScript(exe, cfgPath string) string {
	args := "post-commit"
	if cfgPath != "" {
		args = "--config " + shellQuote(cfgPath) + " " + args
	}
	return fmt.Sprintf(`#!/bin/sh
%s
[ -x %s ] || exit 0
%s %s || true
`, hookMarker, shellQuote(exe), shellQuote(exe), args)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

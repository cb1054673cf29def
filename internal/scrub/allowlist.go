package scrub

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is the repository-level allowlist read from the
// repository root.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds content patterns that are never treated as secrets.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// Empty reports whether the allowlist has no patterns.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Regexes) == 0 && len(a.StopWords) == 0)
}

// LoadAllowlist merges the project allowlist in repoDir and the user
// allowlist at userFile. Either may be empty. Missing files are ignored;
// invalid TOML or patterns are errors.
func LoadAllowlist(repoDir, userFile string) (*Allowlist, error) {
	merged := &Allowlist{}

	var files []string
	if repoDir != "" {
		files = append(files, filepath.Join(repoDir, ProjectAllowlistFile))
	}
	if userFile != "" {
		files = append(files, userFile)
	}

	for _, path := range files {
		al, err := loadTOML(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Regexes = append(merged.Regexes, al.Regexes...)
		merged.StopWords = append(merged.StopWords, al.StopWords...)
	}
	return merged, nil
}

// loadTOML reads the [allowlist] table of a gitleaks-style file.
func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes:   doc.Allowlist.Regexes,
		StopWords: doc.Allowlist.StopWords,
	}, nil
}

package scrub

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/logging"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Secret string
}

// Options locates the allowlists for a Scrubber.
type Options struct {
	// RepoDir is the repository root holding .gitleaks.toml.
	RepoDir string

	// UserAllowlist is the user-level allowlist file.
	UserAllowlist string

	Logger *logging.Logger
}

// Scrubber redacts secrets from text.
//
// The gitleaks detector is expensive to build, so it is constructed on the
// first call and reused. A Scrubber is safe for concurrent use.
type Scrubber struct {
	opts Options

	once     sync.Once
	mu       sync.Mutex
	detector *detect.Detector
	buildErr error
}

// New returns a Scrubber. The detector is not built until first use.
func New(opts Options) *Scrubber {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Scrubber{opts: opts}
}

// Detect returns the secrets found in text.
func (s *Scrubber) Detect(text string) ([]Finding, error) {
	d, err := s.load()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	raw := d.DetectString(text)
	s.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Secret: secret})
	}
	return findings, nil
}

// Scrub replaces every detected secret with a [REDACTED:<rule>] marker and
// returns the redacted text and the number of findings. When the detector
// cannot be built the error is returned and text must not be used.
func (s *Scrubber) Scrub(text string) (string, int, error) {
	if text == "" {
		return text, 0, nil
	}
	findings, err := s.Detect(text)
	if err != nil {
		return "", 0, err
	}
	if len(findings) == 0 {
		return text, 0, nil
	}
	return redact(text, findings), len(findings), nil
}

func (s *Scrubber) load() (*detect.Detector, error) {
	s.once.Do(func() {
		s.detector, s.buildErr = s.build()
		if s.buildErr != nil {
			s.opts.Logger.Warn(context.Background(), "secret detector unavailable",
				zap.Error(s.buildErr))
		}
	})
	return s.detector, s.buildErr
}

func (s *Scrubber) build() (*detect.Detector, error) {
	allowlist, err := LoadAllowlist(s.opts.RepoDir, s.opts.UserAllowlist)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}

	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("building detector: %w", err)
	}
	if !allowlist.Empty() {
		applyAllowlist(&d.Config, allowlist)
	}
	return d, nil
}

// applyAllowlist adds the merged patterns as a global gitleaks allowlist.
// Patterns are validated by LoadAllowlist.
func applyAllowlist(cfg *gitleaksconfig.Config, al *Allowlist) {
	global := &gitleaksconfig.Allowlist{
		Description: "cadence allowlist",
	}
	for _, pattern := range al.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, al.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// redact replaces longer secrets first so a secret containing another is
// not split by the shorter marker.
func redact(text string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Secret) > len(sorted[j].Secret)
	})

	for _, f := range sorted {
		text = strings.ReplaceAll(text, f.Secret, marker(f.RuleID))
	}
	return text
}

func marker(ruleID string) string {
	if ruleID == "" {
		ruleID = "secret"
	}
	return "[REDACTED:" + ruleID + "]"
}

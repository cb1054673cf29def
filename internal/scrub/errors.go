// Package scrub redacts secrets from commit messages before they leave the
// machine.
//
// Detection uses the gitleaks default rule set. Findings are replaced with
// [REDACTED:<rule>] markers. Allowlist patterns come from the repository's
// .gitleaks.toml and the user's allowlist file.
package scrub

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

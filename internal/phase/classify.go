package phase

import (
	"path"
	"strings"
)

// rule maps a set of commit types to a phase.
type rule struct {
	types []string
	phase Phase
	// testOnly restricts the rule to commits touching only non-production paths.
	testOnly bool
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{types: []string{"test(tidy)", "tidy"}, phase: Tidy, testOnly: true},
	{types: []string{"test"}, phase: Red},
	{types: []string{"feat", "impl"}, phase: Green},
	{types: []string{"struct", "refactor"}, phase: Refactor},
}

// Classify returns the phase for a commit message.
//
// It is equivalent to ClassifyCommit with no changed paths.
func Classify(message string) Phase {
	return ClassifyCommit(message, nil)
}

// ClassifyCommit returns the phase for a commit message and its changed paths.
//
// Matching is case-sensitive and anchored at the start of the message. A
// conventional-commit scope and breaking marker are accepted after the type,
// so "test(email): ..." and "feat!: ..." match "test" and "feat".
func ClassifyCommit(message string, paths []string) Phase {
	for _, r := range rules {
		if !r.matches(message) {
			continue
		}
		if r.testOnly && !allNonProduction(paths) {
			continue
		}
		return r.phase
	}
	return Other
}

func (r rule) matches(message string) bool {
	for _, t := range r.types {
		if hasType(message, t) {
			return true
		}
	}
	return false
}

// hasType reports whether message starts with "<t>:", "<t>!:", "<t>(scope):"
// or "<t>(scope)!:". A type that already carries a scope only accepts the
// bare and "!" forms.
func hasType(message, t string) bool {
	if !strings.HasPrefix(message, t) {
		return false
	}
	rest := message[len(t):]
	if !strings.Contains(t, "(") && strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 || strings.ContainsAny(rest[:end], "\n:") {
			return false
		}
		rest = rest[end+1:]
	}
	rest = strings.TrimPrefix(rest, "!")
	return strings.HasPrefix(rest, ":")
}

var testDirs = []string{"test", "tests", "testdata", "fixtures", "testFixtures", "__tests__"}

// IsNonProduction reports whether a repository path holds test support code.
func IsNonProduction(p string) bool {
	p = strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasSuffix(base, "Test.java"),
		strings.HasSuffix(base, "Tests.java"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	if strings.Contains(p, "src/test/") {
		return true
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		for _, d := range testDirs {
			if seg == d {
				return true
			}
		}
	}
	return false
}

func allNonProduction(paths []string) bool {
	for _, p := range paths {
		if !IsNonProduction(p) {
			return false
		}
	}
	return true
}

// Package phase classifies commits into development-cycle phases.
//
// A phase is derived from the commit message prefix alone (plus, for the
// TIDY rule, the set of changed paths). Classification is total: every
// message maps to exactly one phase and there is no error case.
package phase

import "fmt"

// Phase is a development-cycle phase.
type Phase int

const (
	// Other is any commit that does not match a cycle prefix.
	Other Phase = iota

	// Red adds a failing test.
	Red

	// Green makes the failing test pass.
	Green

	// Refactor improves structure without changing behavior.
	Refactor

	// Tidy cleans up test support code.
	Tidy
)

var names = map[Phase]string{
	Other:    "OTHER",
	Red:      "RED",
	Green:    "GREEN",
	Refactor: "REFACTOR",
	Tidy:     "TIDY",
}

// String returns the upper-case phase name.
func (p Phase) String() string {
	if n, ok := names[p]; ok {
		return n
	}
	return names[Other]
}

// Parse returns the phase for an upper-case name.
func Parse(s string) (Phase, error) {
	for p, n := range names {
		if n == s {
			return p, nil
		}
	}
	return Other, fmt.Errorf("unknown phase %q", s)
}

// All returns every phase in display order.
func All() []Phase {
	return []Phase{Red, Green, Refactor, Tidy, Other}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

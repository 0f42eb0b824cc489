package grammar

import (
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/npillmayer/gander"
)

// The grammar engine distinguishes three error categories which surface
// to callers: validation errors (raised at load/prime time; fatal),
// parse errors (no parse possible in complete mode), and generator
// errors (a generator produced an unusable value). Unresolvable context
// rules and read-only replacement violations are handled silently by
// design, so that evolutionary mutation can operate blind to
// generator-owned subtrees.

// ValidationError reports an ill-formed grammar: an undefined
// nonterminal, a non-terminating grammar, a generator missing a required
// parameter, or a cycle in generator dependencies.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ParseError reports that no parse was possible. MaxPosition is the
// furthest input position the parser reached; Offending is the input
// region around it. Suggestion names the defined nonterminal closest to
// an unknown start symbol, if that was the problem.
type ParseError struct {
	MaxPosition int
	Offending   []byte
	Span        gander.Span
	Suggestion  string
	msg         string
}

func (e *ParseError) Error() string {
	s := e.msg
	if e.MaxPosition >= 0 {
		s += fmt.Sprintf(" (reached position %d", e.MaxPosition)
		if len(e.Offending) > 0 {
			s += fmt.Sprintf(", at %q", e.Offending)
		}
		s += ")"
	}
	if e.Suggestion != "" {
		s += fmt.Sprintf("; did you mean %s?", e.Suggestion)
	}
	return s
}

// GeneratorError reports that a generator returned an unsupported type or
// that its output did not parse under its declared nonterminal. It is
// fatal for the surrounding fuzz call; callers may retry with a fresh
// seed.
type GeneratorError struct {
	msg string
}

func (e *GeneratorError) Error() string { return e.msg }

func generatorErrorf(format string, args ...interface{}) *GeneratorError {
	return &GeneratorError{msg: fmt.Sprintf(format, args...)}
}

// closestSymbol returns the defined nonterminal name with the smallest
// edit distance to word, for did-you-mean diagnostics.
func (g *Grammar) closestSymbol(word string) string {
	best := ""
	bestDist := -1
	for sym := range g.rules {
		d := levenshtein.ComputeDistance(word, sym.Name())
		if bestDist < 0 || d < bestDist {
			best = sym.Name()
			bestDist = d
		}
	}
	return best
}

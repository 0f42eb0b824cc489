package gander

import (
	"regexp"
	"regexp/syntax"
	"unicode/utf8"
)

// Regex terminals are matched with the std regexp engine. Incomplete-mode
// matching ("is this input a prefix of some matching string?") is not
// offered by regexp, so we additionally compile the pattern to a
// regexp/syntax program and run a small Thompson simulation over it: the
// input is a prefix of a match iff at least one thread is still alive
// after the whole input has been consumed.

type compiledPattern struct {
	re   *regexp.Regexp // anchored, for complete matches
	prog *syntax.Prog   // for prefix simulation
	err  error
}

// Compiled patterns are cached per pattern source. Grammars are operated
// on single-threaded (see the concurrency notes in package grammar), so a
// plain map suffices.
var patternCache = map[string]*compiledPattern{}

func compilePattern(expr string) *compiledPattern {
	if c, ok := patternCache[expr]; ok {
		return c
	}
	c := &compiledPattern{}
	c.re, c.err = regexp.Compile(`(?s)\A(?:` + expr + `)`)
	if c.err == nil {
		var re *syntax.Regexp
		re, c.err = syntax.Parse(`(?s)(?:`+expr+`)`, syntax.Perl)
		if c.err == nil {
			c.prog, c.err = syntax.Compile(re.Simplify())
		}
	}
	patternCache[expr] = c
	return c
}

func (sym Symbol) checkRegex(word []byte, incomplete bool) (bool, int) {
	c := compilePattern(sym.payload)
	if c.err != nil {
		return false, 0
	}
	var subject string
	if sym.inBytes {
		subject = latin1String(word)
	} else {
		subject = string(word)
	}
	if !incomplete {
		loc := c.re.FindStringIndex(subject)
		if loc == nil {
			return false, 0
		}
		if sym.inBytes {
			// one byte per rune in the latin-1 subject
			return true, utf8.RuneCountInString(subject[:loc[1]])
		}
		return true, loc[1]
	}
	if prefixAlive(c.prog, []rune(subject)) {
		return true, len(word)
	}
	return false, 0
}

// latin1String widens every byte of b into the corresponding rune, so that
// byte-domain patterns see one character per input byte.
func latin1String(b []byte) string {
	runes := make([]rune, len(b))
	for i, by := range b {
		runes[i] = rune(by)
	}
	return string(runes)
}

// --- Thompson simulation ----------------------------------------------------

type threadSet struct {
	dense  []uint32
	sparse []bool
}

func newThreadSet(n int) *threadSet {
	return &threadSet{sparse: make([]bool, n)}
}

func (ts *threadSet) clear() {
	for _, pc := range ts.dense {
		ts.sparse[pc] = false
	}
	ts.dense = ts.dense[:0]
}

// add follows non-consuming instructions transitively, collecting every pc
// that sits on a consuming instruction or on Match.
func (ts *threadSet) add(prog *syntax.Prog, pc uint32, atStart bool) {
	if ts.sparse[pc] {
		return
	}
	ts.sparse[pc] = true
	inst := &prog.Inst[pc]
	switch inst.Op {
	case syntax.InstAlt, syntax.InstAltMatch:
		ts.add(prog, inst.Out, atStart)
		ts.add(prog, inst.Arg, atStart)
	case syntax.InstCapture, syntax.InstNop:
		ts.add(prog, inst.Out, atStart)
	case syntax.InstEmptyWidth:
		// Begin-of-text assertions only hold at position 0. All other
		// assertions are satisfiable by some extension of the input, which
		// is exactly what prefix matching asks about.
		cond := syntax.EmptyOp(inst.Arg)
		if cond&(syntax.EmptyBeginText|syntax.EmptyBeginLine) != 0 && !atStart {
			return
		}
		ts.add(prog, inst.Out, atStart)
	case syntax.InstMatch, syntax.InstRune, syntax.InstRune1, syntax.InstRuneAny, syntax.InstRuneAnyNotNL:
		ts.dense = append(ts.dense, pc)
	case syntax.InstFail:
		// dead thread
	}
}

func instMatchesRune(inst *syntax.Inst, r rune) bool {
	switch inst.Op {
	case syntax.InstRune:
		return inst.MatchRune(r)
	case syntax.InstRune1:
		return inst.Rune[0] == r
	case syntax.InstRuneAny:
		return true
	case syntax.InstRuneAnyNotNL:
		return r != '\n'
	}
	return false
}

// prefixAlive reports whether input is a prefix of some string matched by
// prog (including a complete match of exactly the input).
func prefixAlive(prog *syntax.Prog, input []rune) bool {
	cur := newThreadSet(len(prog.Inst))
	next := newThreadSet(len(prog.Inst))
	cur.add(prog, uint32(prog.Start), true)
	for _, r := range input {
		if len(cur.dense) == 0 {
			return false
		}
		next.clear()
		for _, pc := range cur.dense {
			inst := &prog.Inst[pc]
			if inst.Op == syntax.InstMatch {
				continue // matched a proper prefix only; thread ends here
			}
			if instMatchesRune(inst, r) {
				next.add(prog, inst.Out, false)
			}
		}
		cur, next = next, cur
	}
	return len(cur.dense) > 0
}

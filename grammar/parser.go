package grammar

import (
	"fmt"
	"strings"

	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
)

// The parser is an Earley recognizer generalized over a unit stream which
// can be either a byte or a single bit, chosen per column according to
// the symbol being scanned. Rule bodies are normalized up front: nested
// alternatives, concatenations and repetitions are flattened into
// synthetic nonterminals. Two kinds of synthetics exist:
//
//   <__kind:id>   intermediate rules; they appear in parse trees and are
//                 spliced out by collapse
//   <*i*>         implicit rules; their children are spliced inline
//                 during completion and never form tree nodes
//
// Repetitions whose bounds depend on values parsed earlier compile into
// context rules <*ctx_k*>, whose bodies are determined lazily by the
// predictor once the surrounding partial tree is known.

// --- Flattened rules --------------------------------------------------------

// symref is one slot of a flattened rule body: a symbol plus the party
// annotations of the originating nonterminal reference.
type symref struct {
	sym       gander.Symbol
	sender    string
	recipient string
}

func ref(sym gander.Symbol) symref { return symref{sym: sym} }

func (s symref) String() string { return s.sym.String() }

// alternative is one flattened right-hand side. Each distinct RHS gets a
// serial id, which stands in for the symbol sequence in state identity.
type alternative struct {
	serial int
	syms   []symref
}

func (a *alternative) signature() string {
	parts := make([]string, len(a.syms))
	for i, s := range a.syms {
		parts[i] = s.sym.String() + "/" + s.sender + "/" + s.recipient
	}
	return strings.Join(parts, " ")
}

// --- Parse states and columns -----------------------------------------------

// parseState is an Earley item: a rule with a dot position, the column
// the rule started in, and the children collected so far. Children do not
// take part in state identity, so duplicate states are suppressed while
// the first occurrence's completions still reconstruct the tree.
type parseState struct {
	nonterminal gander.Symbol
	origin      int
	alt         *alternative
	dot         int
	children    []*tree.Tree
	incomplete  bool
}

type stateKey struct {
	nonterminal gander.Symbol
	origin      int
	altSerial   int
	dot         int
}

func (s *parseState) key() stateKey {
	return stateKey{s.nonterminal, s.origin, s.alt.serial, s.dot}
}

// dotSymbol returns the next expected symbol, or a zero Symbol when the
// dot is past the end.
func (s *parseState) dotSymbol() (symref, bool) {
	if s.dot < len(s.alt.syms) {
		return s.alt.syms[s.dot], true
	}
	return symref{}, false
}

func (s *parseState) finished() bool {
	return s.dot >= len(s.alt.syms) && !s.incomplete
}

func (s *parseState) nextIsNonTerm() bool {
	sr, ok := s.dotSymbol()
	return ok && sr.sym.IsNonTerm()
}

// next returns the state advanced by one symbol, with a copied child
// list.
func (s *parseState) next() *parseState {
	return &parseState{
		nonterminal: s.nonterminal,
		origin:      s.origin,
		alt:         s.alt,
		dot:         s.dot + 1,
		children:    append([]*tree.Tree(nil), s.children...),
		incomplete:  s.incomplete,
	}
}

func (s *parseState) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%s -> ", s.nonterminal.Name())
	for i, sr := range s.alt.syms {
		if i == s.dot {
			sb.WriteString("•")
		}
		sb.WriteString(sr.sym.String())
	}
	if s.dot >= len(s.alt.syms) {
		sb.WriteString("•")
	}
	fmt.Fprintf(&sb, ", column %d)", s.origin)
	return sb.String()
}

// column holds an insertion-ordered list of unique states, indexed by
// their next expected symbol for completer lookup.
type column struct {
	states []*parseState
	unique map[stateKey]bool
	dotMap map[gander.Symbol][]*parseState
}

func newColumn() *column {
	return &column{
		unique: map[stateKey]bool{},
		dotMap: map[gander.Symbol][]*parseState{},
	}
}

func (col *column) add(state *parseState) bool {
	key := state.key()
	if col.unique[key] {
		return false
	}
	col.states = append(col.states, state)
	col.unique[key] = true
	if sr, ok := state.dotSymbol(); ok {
		col.dotMap[sr.sym] = append(col.dotMap[sr.sym], state)
	}
	return true
}

// findDot returns the states expecting the given symbol next.
func (col *column) findDot(sym gander.Symbol) []*parseState {
	return col.dotMap[sym]
}

// replace swaps a state in place, keeping insertion order. Used by
// context-rule expansion and by the repetition shortcut.
func (col *column) replace(old, new *parseState) {
	delete(col.unique, old.key())
	col.unique[new.key()] = true
	for i, s := range col.states {
		if s == old {
			col.states[i] = new
			break
		}
	}
	if sr, ok := old.dotSymbol(); ok {
		list := col.dotMap[sr.sym]
		for i, s := range list {
			if s == old {
				col.dotMap[sr.sym] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	if sr, ok := new.dotSymbol(); ok {
		col.dotMap[sr.sym] = append(col.dotMap[sr.sym], new)
	}
}

func (col *column) contains(state *parseState) bool {
	return col.unique[state.key()]
}

// --- The parser -------------------------------------------------------------

// Mode selects between complete and incomplete parsing.
type Mode int

// Parsing modes. In Incomplete mode a prefix of a valid input is
// accepted and partial derivations are yielded.
const (
	Complete Mode = iota
	Incomplete
)

type ctxRule struct {
	node    *Repeat
	innerNT symref
}

// earleyParser holds the normalized rule tables for a grammar, plus the
// parse-forest cache. It is rebuilt whenever rules change.
type earleyParser struct {
	g             *Grammar
	implicitStart gander.Symbol
	rules         map[gander.Symbol][]*alternative // user and intermediate rules
	implicitRules map[gander.Symbol][]*alternative
	ctxRules      map[gander.Symbol]*ctxRule
	tmpRules      map[gander.Symbol][]*alternative
	altSerial     int
	maxPosition   int
	cache         map[string][]*tree.Tree
	compileErr    error
}

func newEarleyParser(g *Grammar) *earleyParser {
	p := &earleyParser{
		g:             g,
		implicitStart: gander.NT("<*start*>"),
		rules:         map[gander.Symbol][]*alternative{},
		implicitRules: map[gander.Symbol][]*alternative{},
		ctxRules:      map[gander.Symbol]*ctxRule{},
		tmpRules:      map[gander.Symbol][]*alternative{},
		maxPosition:   -1,
		cache:         map[string][]*tree.Tree{},
	}
	for sym, rule := range g.rules {
		body, err := p.compile(rule)
		if err != nil {
			p.compileErr = err
			return p
		}
		p.setRule(sym, body)
	}
	return p
}

func (p *earleyParser) newAlternative(syms []symref) *alternative {
	p.altSerial++
	return &alternative{serial: p.altSerial, syms: syms}
}

// setRule registers a user or intermediate rule, deduplicating identical
// alternatives.
func (p *earleyParser) setRule(sym gander.Symbol, body [][]symref) {
	p.rules[sym] = p.dedupe(body)
}

func (p *earleyParser) dedupe(body [][]symref) []*alternative {
	var alts []*alternative
	seen := map[string]bool{}
	for _, syms := range body {
		a := p.newAlternative(syms)
		if sig := a.signature(); !seen[sig] {
			seen[sig] = true
			alts = append(alts, a)
		}
	}
	return alts
}

func (p *earleyParser) setImplicitRule(body [][]symref) symref {
	sym := gander.NT(fmt.Sprintf("<*%d*>", len(p.implicitRules)))
	p.implicitRules[sym] = p.dedupe(body)
	return ref(sym)
}

func (p *earleyParser) setContextRule(node *Repeat, innerNT symref) symref {
	sym := gander.NT(fmt.Sprintf("<*ctx_%d*>", len(p.ctxRules)))
	p.ctxRules[sym] = &ctxRule{node: node, innerNT: innerNT}
	return ref(sym)
}

func (p *earleyParser) setTmpRule(body [][]symref) symref {
	sym := gander.NT(fmt.Sprintf("<*tmp_%d*>", len(p.tmpRules)))
	p.tmpRules[sym] = p.dedupe(body)
	return ref(sym)
}

func (p *earleyParser) clearTmp() {
	p.tmpRules = map[gander.Symbol][]*alternative{}
}

// --- Rule normalization -----------------------------------------------------

func intermediateNT(kind NodeKind, id string) gander.Symbol {
	return gander.NT(fmt.Sprintf("<__%s:%s>", kind, id))
}

// compile flattens a rule body into alternatives of symbol sequences,
// introducing synthetic nonterminals along the way.
func (p *earleyParser) compile(n Node) ([][]symref, error) {
	switch node := n.(type) {
	case *Alt:
		var result [][]symref
		for _, a := range node.Alternatives {
			sub, err := p.compile(a)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
		}
		nt := intermediateNT(AltKind, node.ID)
		p.setRule(nt, result)
		return [][]symref{{ref(nt)}}, nil
	case *Concat:
		result := [][]symref{{}}
		for _, c := range node.Nodes {
			toAdd, err := p.compile(c)
			if err != nil {
				return nil, err
			}
			var next [][]symref
			for _, r := range result {
				for _, a := range toAdd {
					seq := append(append([]symref(nil), r...), a...)
					next = append(next, seq)
				}
			}
			result = next
		}
		nt := intermediateNT(ConcatKind, node.ID)
		p.setRule(nt, result)
		return [][]symref{{ref(nt)}}, nil
	case *Repeat:
		switch node.Kind() {
		case StarKind:
			return p.compileStar(node)
		case PlusKind:
			return p.compilePlus(node)
		case OptionKind:
			return p.compileOption(node)
		}
		return p.compileRepetition(node, nil, nil)
	case *NonTermRef:
		return [][]symref{{symref{sym: node.Symbol, sender: node.Sender, recipient: node.Recipient}}}, nil
	case *TermLit:
		return [][]symref{{ref(node.Symbol)}}, nil
	case *CharSet:
		var result [][]symref
		for _, ch := range node.Chars {
			result = append(result, []symref{ref(gander.Lit(string(ch)))})
		}
		nt := intermediateNT(CharSetKind, node.Chars)
		p.setRule(nt, result)
		return [][]symref{{ref(nt)}}, nil
	}
	return nil, fmt.Errorf("cannot normalize IR node %s", n)
}

func (p *earleyParser) compileStar(node *Repeat) ([][]symref, error) {
	inner, err := p.compile(node.Inner)
	if err != nil {
		return nil, err
	}
	body := [][]symref{{}}
	nt := p.setImplicitRule(nil) // body follows below; name fixed first
	for _, r := range inner {
		body = append(body, append(append([]symref(nil), r...), nt))
	}
	p.implicitRules[nt.sym] = p.dedupe(body)
	intermediate := intermediateNT(StarKind, node.ID)
	p.setRule(intermediate, [][]symref{{nt}})
	return [][]symref{{ref(intermediate)}}, nil
}

func (p *earleyParser) compilePlus(node *Repeat) ([][]symref, error) {
	inner, err := p.compile(node.Inner)
	if err != nil {
		return nil, err
	}
	var body [][]symref
	nt := p.setImplicitRule(nil)
	for _, r := range inner {
		body = append(body, r)
		body = append(body, append(append([]symref(nil), r...), nt))
	}
	p.implicitRules[nt.sym] = p.dedupe(body)
	intermediate := intermediateNT(PlusKind, node.ID)
	p.setRule(intermediate, [][]symref{{nt}})
	return [][]symref{{ref(intermediate)}}, nil
}

func (p *earleyParser) compileOption(node *Repeat) ([][]symref, error) {
	inner, err := p.compile(node.Inner)
	if err != nil {
		return nil, err
	}
	result := append([][]symref{{}}, inner...)
	nt := intermediateNT(OptionKind, node.ID)
	p.setRule(nt, result)
	return [][]symref{{ref(nt)}}, nil
}

// compileRepetition flattens a counted repetition. On the first pass
// (innerNT == nil) a context-dependent repetition is deferred into a
// context rule; the predictor calls back later with the inner rule and
// the partial tree, at which point the bounds can be evaluated.
func (p *earleyParser) compileRepetition(node *Repeat, innerNT *symref, t *tree.Tree) ([][]symref, error) {
	isContext := node.IsContextDependent()
	var nt symref
	if innerNT == nil {
		inner, err := p.compile(node.Inner)
		if err != nil {
			return nil, err
		}
		nt = p.setImplicitRule(inner)
		if isContext {
			iNT := p.setContextRule(node, nt)
			repNT := intermediateNT(RepeatKind, node.ID)
			p.setRule(repNT, [][]symref{{iNT}})
			return [][]symref{{ref(repNT)}}, nil
		}
	} else {
		nt = *innerNT
	}

	nodeMin, err := node.MinCount(p.g, t)
	if err != nil {
		return nil, err
	}
	nodeMax, err := node.MaxCount(p.g, t)
	if err != nil {
		return nil, err
	}
	var prev *symref
	for rep := nodeMin; rep < nodeMax; rep++ {
		alts := [][]symref{{nt}}
		if prev != nil {
			alts = append(alts, []symref{nt, *prev})
		}
		var fresh symref
		if isContext {
			fresh = p.setTmpRule(alts)
		} else {
			fresh = p.setImplicitRule(alts)
		}
		prev = &fresh
	}
	minSeq := make([]symref, nodeMin)
	for i := range minSeq {
		minSeq[i] = nt
	}
	alts := [][]symref{minSeq}
	if prev != nil {
		alts = append(alts, append(append([]symref(nil), minSeq...), *prev))
	}
	if isContext {
		tmpNT := p.setTmpRule(alts)
		return [][]symref{{tmpNT}}, nil
	}
	minNT := p.setImplicitRule(alts)
	repNT := intermediateNT(RepeatKind, node.ID)
	p.setRule(repNT, [][]symref{{minNT}})
	return [][]symref{{ref(repNT)}}, nil
}

// --- Collapse ---------------------------------------------------------------

func isIntermediate(sym gander.Symbol) bool {
	return sym.IsNonTerm() &&
		(strings.HasPrefix(sym.Name(), "<__") || strings.HasPrefix(sym.Name(), "<*"))
}

// Collapse returns a new tree in which every synthetic node has been
// replaced by its children, spliced into the parent's child list.
// Sender/recipient tags, sources and read-only flags of surviving nodes
// are preserved. Collapsing is idempotent.
func (g *Grammar) Collapse(t *tree.Tree) *tree.Tree {
	return g.parser.collapse(t)
}

func (p *earleyParser) collapse(t *tree.Tree) *tree.Tree {
	if t == nil {
		return nil
	}
	reduced := p.collapseRec(t)
	if len(reduced) != 1 {
		// a synthetic root cannot be collapsed away
		return t
	}
	return reduced[0]
}

func (p *earleyParser) collapseRec(t *tree.Tree) []*tree.Tree {
	var reduced []*tree.Tree
	for _, c := range t.Children() {
		reduced = append(reduced, p.collapseRec(c)...)
	}
	if isIntermediate(t.Symbol()) {
		return reduced
	}
	node := tree.New(t.Symbol(), reduced...)
	node.SetSender(t.Sender())
	node.SetRecipient(t.Recipient())
	node.SetReadOnly(t.ReadOnly())
	if len(t.Sources()) > 0 {
		node.SetSources(t.Sources())
	}
	return []*tree.Tree{node}
}

// rebuild creates a fresh copy of a parse-time tree, so that cached
// forests and yielded trees never share nodes.
func rebuild(t *tree.Tree) *tree.Tree {
	children := make([]*tree.Tree, t.NumChildren())
	for i, c := range t.Children() {
		children[i] = rebuild(c)
	}
	node := tree.New(t.Symbol(), children...)
	node.SetSender(t.Sender())
	node.SetRecipient(t.Recipient())
	node.SetReadOnly(t.ReadOnly())
	return node
}

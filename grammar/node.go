package grammar

import (
	"fmt"
	"strings"

	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
)

// --- Grammar IR -------------------------------------------------------------

// NodeKind is a category type for IR nodes.
type NodeKind int8

// The IR node variants.
const (
	AltKind NodeKind = iota
	ConcatKind
	RepeatKind
	StarKind
	PlusKind
	OptionKind
	NonTermKind
	TermKind
	CharSetKind
)

func (k NodeKind) String() string {
	switch k {
	case AltKind:
		return "alternative"
	case ConcatKind:
		return "concatenation"
	case RepeatKind:
		return "repetition"
	case StarKind:
		return "star"
	case PlusKind:
		return "plus"
	case OptionKind:
		return "option"
	case NonTermKind:
		return "non_terminal"
	case TermKind:
		return "terminal"
	case CharSetKind:
		return "char_set"
	}
	return "<unknown node kind>"
}

// Node is an IR node of a grammar rule body. Rule bodies form a graph,
// not a tree: NonTermRef nodes reference other rules by symbol.
//
// Every node carries a distance-to-completion: the minimum number of
// expansion steps needed to complete a derivation from this node.
// Terminal and character-set nodes are created with distance 0; every
// other node is +Inf until Grammar.Prime has run.
type Node interface {
	Kind() NodeKind
	// Distance returns the primed distance-to-completion.
	Distance() float64
	setDistance(d float64)
	// IRChildren returns the direct IR children of the node (not
	// following nonterminal references).
	IRChildren() []Node
	String() string
}

// nodebase carries the mutable priming state shared by all variants.
type nodebase struct {
	dist float64
}

func (nb *nodebase) Distance() float64     { return nb.dist }
func (nb *nodebase) setDistance(d float64) { nb.dist = d }

func newNodebase() nodebase {
	return nodebase{dist: inf}
}

// Alt is an ordered choice between alternatives.
type Alt struct {
	nodebase
	ID           string
	Alternatives []Node
}

// NewAlt creates an alternative node.
func NewAlt(id string, alternatives ...Node) *Alt {
	return &Alt{nodebase: newNodebase(), ID: id, Alternatives: alternatives}
}

func (a *Alt) Kind() NodeKind     { return AltKind }
func (a *Alt) IRChildren() []Node { return a.Alternatives }

func (a *Alt) String() string {
	parts := make([]string, len(a.Alternatives))
	for i, n := range a.Alternatives {
		parts[i] = n.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

// Concat is a sequence of nodes.
type Concat struct {
	nodebase
	ID    string
	Nodes []Node
}

// NewConcat creates a concatenation node.
func NewConcat(id string, nodes ...Node) *Concat {
	return &Concat{nodebase: newNodebase(), ID: id, Nodes: nodes}
}

func (c *Concat) Kind() NodeKind     { return ConcatKind }
func (c *Concat) IRChildren() []Node { return c.Nodes }

func (c *Concat) String() string {
	parts := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, " ")
}

// Repeat repeats an inner node between Min and Max times. The bounds may
// be data-dependent: a bound may reference subtrees of the surrounding
// partial derivation through path queries. Star, Plus and Option are
// specializations and carry their own kind tag, which determines their
// rule normalization in the parser.
type Repeat struct {
	nodebase
	ID      string
	Inner   Node
	variant NodeKind // RepeatKind, StarKind, PlusKind or OptionKind
	Min     *Bound
	Max     *Bound // nil stands for MaxRepetitions

	staticMin *int // cached once evaluated, if the bound is pure
	// Max is intentionally never cached, even when pure: bounds stay
	// sensitive to grammar-environment updates.

	equiv *Alt // memoized unrolling, see equivalentAlt
}

// NewRepeat creates a counted repetition with the given bounds. A nil
// bound defaults to min 0 resp. max MaxRepetitions.
func NewRepeat(id string, inner Node, min, max *Bound) *Repeat {
	if min == nil {
		min = StaticBound(0)
	}
	return &Repeat{nodebase: newNodebase(), ID: id, Inner: inner, variant: RepeatKind, Min: min, Max: max}
}

// NewStar creates a zero-or-more repetition.
func NewStar(id string, inner Node) *Repeat {
	r := NewRepeat(id, inner, StaticBound(0), nil)
	r.variant = StarKind
	return r
}

// NewPlus creates a one-or-more repetition.
func NewPlus(id string, inner Node) *Repeat {
	r := NewRepeat(id, inner, StaticBound(1), nil)
	r.variant = PlusKind
	return r
}

// NewOption creates a zero-or-one repetition.
func NewOption(id string, inner Node) *Repeat {
	r := NewRepeat(id, inner, StaticBound(0), StaticBound(1))
	r.variant = OptionKind
	return r
}

func (r *Repeat) Kind() NodeKind     { return r.variant }
func (r *Repeat) IRChildren() []Node { return []Node{r.Inner} }

// IsContextDependent reports whether any bound references the
// surrounding derivation through path queries.
func (r *Repeat) IsContextDependent() bool {
	return len(r.AccessPoints()) != 0
}

// AccessPoints returns the nonterminals the bounds' path queries anchor
// at.
func (r *Repeat) AccessPoints() []gander.Symbol {
	seen := map[gander.Symbol]bool{}
	var out []gander.Symbol
	for _, b := range []*Bound{r.Min, r.Max} {
		if b == nil {
			continue
		}
		for _, q := range b.Searches {
			for _, sym := range q.AccessPoints() {
				if !seen[sym] {
					seen[sym] = true
					out = append(out, sym)
				}
			}
		}
	}
	return out
}

func (r *Repeat) String() string {
	switch r.variant {
	case StarKind:
		return r.Inner.String() + "*"
	case PlusKind:
		return r.Inner.String() + "+"
	case OptionKind:
		return r.Inner.String() + "?"
	}
	min, max := "f()", "f()"
	if r.staticMin != nil {
		min = fmt.Sprintf("%d", *r.staticMin)
	}
	if r.Max != nil && r.Max.Eval == nil {
		max = "None"
	}
	if min == max {
		return fmt.Sprintf("%s{%s}", r.Inner, min)
	}
	return fmt.Sprintf("%s{%s,%s}", r.Inner, min, max)
}

// NonTermRef references another rule by symbol, optionally tagging the
// resulting subtree with protocol parties.
type NonTermRef struct {
	nodebase
	Symbol    gander.Symbol
	Sender    string
	Recipient string
}

// NewNonTermRef creates a nonterminal reference.
func NewNonTermRef(sym gander.Symbol) *NonTermRef {
	return &NonTermRef{nodebase: newNodebase(), Symbol: sym}
}

// NewPartyRef creates a nonterminal reference tagged with protocol
// parties.
func NewPartyRef(sym gander.Symbol, sender, recipient string) *NonTermRef {
	return &NonTermRef{nodebase: newNodebase(), Symbol: sym, Sender: sender, Recipient: recipient}
}

func (n *NonTermRef) Kind() NodeKind     { return NonTermKind }
func (n *NonTermRef) IRChildren() []Node { return nil }

func (n *NonTermRef) String() string {
	if n.Sender != "" {
		name := strings.TrimSuffix(n.Symbol.Name(), ">")
		if n.Recipient != "" {
			return fmt.Sprintf("<%s:%s:%s>", n.Sender, n.Recipient, strings.TrimPrefix(name, "<"))
		}
		return fmt.Sprintf("<%s:%s>", n.Sender, strings.TrimPrefix(name, "<"))
	}
	return n.Symbol.Name()
}

// TermLit wraps a terminal symbol.
type TermLit struct {
	nodebase
	Symbol gander.Symbol
}

// NewTermLit creates a terminal node. Its distance-to-completion is 0.
func NewTermLit(sym gander.Symbol) *TermLit {
	t := &TermLit{Symbol: sym}
	return t
}

func (t *TermLit) Kind() NodeKind     { return TermKind }
func (t *TermLit) IRChildren() []Node { return nil }
func (t *TermLit) String() string     { return t.Symbol.String() }

// CharSet matches exactly one character out of a set.
type CharSet struct {
	nodebase
	Chars string
}

// NewCharSet creates a character-set node. Its distance-to-completion is 0.
func NewCharSet(chars string) *CharSet {
	return &CharSet{Chars: chars}
}

func (c *CharSet) Kind() NodeKind     { return CharSetKind }
func (c *CharSet) IRChildren() []Node { return nil }
func (c *CharSet) String() string     { return "[" + c.Chars + "]" }

// --- Descendents relation ---------------------------------------------------

// descendents returns the nodes one expansion step away, following
// nonterminal references into their rule bodies. This relation spans the
// k-path space of the grammar.
func descendents(n Node, g *Grammar) []Node {
	switch node := n.(type) {
	case *Alt:
		return node.Alternatives
	case *Concat:
		return node.Nodes
	case *Repeat:
		if node.variant == OptionKind {
			return []Node{node.Inner, NewTermLit(gander.Lit(""))}
		}
		return []Node{node.equivalentAlt(g)}
	case *NonTermRef:
		if rule, ok := g.rules[node.Symbol]; ok {
			return []Node{rule}
		}
		return nil
	case *CharSet:
		out := make([]Node, 0, len(node.Chars))
		for _, ch := range node.Chars {
			out = append(out, NewTermLit(gander.Lit(string(ch))))
		}
		return out
	}
	return nil
}

// equivalentAlt unrolls a repetition into an alternative over
// concatenations of its inner node. Bounds are evaluated without a
// surrounding tree; a data-dependent bound falls back to the full static
// range. An empty repetition is represented by an empty concatenation, so
// that its observable footprint matches a childless tree node. The
// unrolling is memoized, which keeps node identity stable for coverage
// bookkeeping.
func (r *Repeat) equivalentAlt(g *Grammar) *Alt {
	if r.equiv != nil {
		return r.equiv
	}
	min, err := r.MinCount(g, nil)
	if err != nil {
		min = 0
	}
	max, err := r.MaxCount(g, nil)
	if err != nil {
		max = g.MaxRepetitions()
	}
	var base []Node
	if min == 0 {
		base = append(base, NewConcat(r.ID+"~0"))
	}
	if min <= 1 && 1 <= max {
		base = append(base, r.Inner)
	}
	lo := 2
	if min > lo {
		lo = min
	}
	for rep := lo; rep <= max; rep++ {
		inner := make([]Node, rep)
		for i := range inner {
			inner[i] = r.Inner
		}
		base = append(base, NewConcat(fmt.Sprintf("%s~%d", r.ID, rep), inner...))
	}
	r.equiv = NewAlt(r.ID+"~alt", base...)
	return r.equiv
}

// --- IR traversal helpers ---------------------------------------------------

// walkIR calls f for every IR node reachable from n without following
// nonterminal references, pre-order.
func walkIR(n Node, f func(Node)) {
	f(n)
	for _, c := range n.IRChildren() {
		walkIR(c, f)
	}
}

// findSymbols collects the terminal and nonterminal reference nodes of a
// rule body.
func findSymbols(n Node) (terms []*TermLit, nonterms []*NonTermRef) {
	walkIR(n, func(node Node) {
		switch s := node.(type) {
		case *TermLit:
			terms = append(terms, s)
		case *NonTermRef:
			nonterms = append(nonterms, s)
		}
	})
	return
}

// msgParties collects the protocol parties reachable from a rule body.
// Each traversal seeds its own seen-set, so the result is purely a
// function of the start node.
func msgParties(n Node, g *Grammar, seen map[gander.Symbol]bool, includeRecipients bool) map[string]bool {
	parties := map[string]bool{}
	switch node := n.(type) {
	case *NonTermRef:
		if node.Sender != "" {
			parties[node.Sender] = true
			if node.Recipient != "" && includeRecipients {
				parties[node.Recipient] = true
			}
		}
		if !seen[node.Symbol] {
			seen[node.Symbol] = true
			if rule, ok := g.rules[node.Symbol]; ok {
				for p := range msgParties(rule, g, seen, includeRecipients) {
					parties[p] = true
				}
			}
		}
	default:
		for _, c := range n.IRChildren() {
			for p := range msgParties(c, g, seen, includeRecipients) {
				parties[p] = true
			}
		}
	}
	return parties
}

// --- Bounds and path queries ------------------------------------------------

// BoundFunc evaluates a repetition bound. vars maps the names of resolved
// path queries to the located subtrees. The environment is a private copy;
// writes do not leak into sibling evaluations.
type BoundFunc func(env *Env, vars map[string]*tree.Tree) (int, error)

// Bound is a repetition bound: an expression over the grammar environment
// and, optionally, over subtrees of the surrounding partial derivation
// located by path queries. A Bound with a nil Eval stands for the
// grammar's MaxRepetitions.
type Bound struct {
	Text     string
	Eval     BoundFunc
	Searches map[string]*Query
}

// StaticBound creates a constant bound.
func StaticBound(n int) *Bound {
	return &Bound{
		Text: fmt.Sprintf("%d", n),
		Eval: func(*Env, map[string]*tree.Tree) (int, error) { return n, nil },
	}
}

// MaxBound creates the sentinel bound standing for MaxRepetitions.
func MaxBound() *Bound {
	return &Bound{Text: "None"}
}

// QueryBound creates a bound computed from a subtree of the surrounding
// derivation: the query is resolved against the current partial tree, and
// its result is bound to name when eval runs.
func QueryBound(text, name string, q *Query, eval BoundFunc) *Bound {
	return &Bound{Text: text, Eval: eval, Searches: map[string]*Query{name: q}}
}

// Query locates subtrees within a derivation by a chain of nonterminals:
// the first symbol is matched anywhere in the tree, each further symbol by
// the rightmost matching child.
type Query struct {
	Path []gander.Symbol
}

// NewQuery creates a path query.
func NewQuery(path ...gander.Symbol) *Query {
	return &Query{Path: path}
}

// AccessPoints returns the nonterminals this query anchors at.
func (q *Query) AccessPoints() []gander.Symbol {
	if len(q.Path) == 0 {
		return nil
	}
	return []gander.Symbol{q.Path[0]}
}

// Find returns all subtrees of root the query resolves to, in document
// order.
func (q *Query) Find(root *tree.Tree) []*tree.Tree {
	if len(q.Path) == 0 {
		return nil
	}
	anchors := root.FindAllNodes(q.Path[0], true)
	if len(q.Path) == 1 {
		return anchors
	}
	var out []*tree.Tree
	for _, a := range anchors {
		if target, err := a.LastByPath(q.Path); err == nil {
			out = append(out, target)
		}
	}
	return out
}

func (q *Query) String() string {
	parts := make([]string, len(q.Path))
	for i, sym := range q.Path {
		parts[i] = sym.Name()
	}
	return strings.Join(parts, ".")
}

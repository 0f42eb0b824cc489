/*
Package grammar implements a grammar engine for generating and re-parsing
structured inputs.

A Grammar maps nonterminals to IR rule bodies built from alternatives,
concatenations, repetitions (with possibly data-dependent bounds),
options, terminals and character sets. Selected nonterminals may carry a
generator function which produces their surface from other subtrees.

Three engines operate on a grammar:

■ the fuzzer performs top-down random expansion bounded by a node budget,
consulting primed distance-to-completion values to pick the shortest
completions when the budget runs out (see Fuzz);

■ an Earley-style chart parser recognizes strings, byte sequences and bit
sequences, including partial inputs and repetition bounds which depend on
values parsed earlier (see Parse, ParseForest);

■ the coverage scorer enumerates grammar k-paths and measures which of
them a set of derivation trees exercises (see ComputeGrammarCoverage).

A grammar must be primed before fuzzing: Prime computes, for every IR
node, a lower bound on the number of expansions needed to complete a
derivation from it.

Concurrency: a Grammar and every derivation tree reachable from it are
confined to a single goroutine. Grammars cache priming results, parser
rule tables and parse forests; trees cache sizes and hashes. Callers
which parallelize across independent trees must give each goroutine its
own grammar instance.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2017–2022 Norbert Pillmayer <norbert@pillmayer.com>

*/
package grammar

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'gander.grammar'.
func tracer() tracing.Trace {
	return tracing.Select("gander.grammar")
}

var inf = math.Inf(1)

// DefaultMaxRepetitions substitutes for an unbounded repetition maximum
// at fuzz time, unless overridden per grammar.
const DefaultMaxRepetitions = 5

// FuzzingMode selects how a grammar is fuzzed.
type FuzzingMode int

// Fuzzing modes. IO mode marks a grammar as protocol-style: its
// party-tagged subtrees are exchanged as messages by an outer loop.
// Party tags are only ever assigned to the topmost message nonterminal.
const (
	FuzzComplete FuzzingMode = iota
	FuzzIO
)

// --- Environments -----------------------------------------------------------

// Env is the opaque variable environment against which generator calls
// and repetition bounds are evaluated. Generator calls receive a copy, so
// writes cannot leak into sibling evaluations.
type Env struct {
	globals map[string]interface{}
	locals  map[string]interface{}
}

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{
		globals: map[string]interface{}{},
		locals:  map[string]interface{}{},
	}
}

// SetGlobal binds a global variable.
func (e *Env) SetGlobal(name string, value interface{}) {
	e.globals[name] = value
}

// SetLocal binds a local variable.
func (e *Env) SetLocal(name string, value interface{}) {
	e.locals[name] = value
}

// Lookup resolves a name, locals shadowing globals.
func (e *Env) Lookup(name string) (interface{}, bool) {
	if v, ok := e.locals[name]; ok {
		return v, true
	}
	v, ok := e.globals[name]
	return v, ok
}

// Clone copies the environment, globals and locals alike, so that writes
// to the copy do not reach the original.
func (e *Env) Clone() *Env {
	globals := make(map[string]interface{}, len(e.globals))
	for k, v := range e.globals {
		globals[k] = v
	}
	locals := make(map[string]interface{}, len(e.locals))
	for k, v := range e.locals {
		locals[k] = v
	}
	return &Env{globals: globals, locals: locals}
}

// Update merges another environment's bindings into this one.
func (e *Env) Update(other *Env) {
	if other == nil {
		return
	}
	for k, v := range other.globals {
		e.globals[k] = v
	}
	for k, v := range other.locals {
		e.locals[k] = v
	}
}

// --- Generators -------------------------------------------------------------

// GeneratorFunc produces the surface of a nonterminal from the derivation
// trees bound to the generator's formal parameters. The returned value
// must be a string, []byte, int or tree.Pair.
type GeneratorFunc func(env *Env, args map[string]*tree.Tree) (interface{}, error)

// Generator is a generator function attached to a nonterminal: a callable
// plus a mapping from formal parameter names to the nonterminals whose
// derivations feed those parameters.
type Generator struct {
	Name   string // display form of the call
	Call   GeneratorFunc
	Params map[string]gander.Symbol
}

func (g *Generator) String() string {
	if g.Name != "" {
		return g.Name
	}
	return "f(...)"
}

// --- Grammar ----------------------------------------------------------------

// Grammar maps nonterminals to rule bodies and, optionally, to
// generators. Create one with New, then call Prime before fuzzing.
type Grammar struct {
	rules      map[gander.Symbol]Node
	generators map[gander.Symbol]*Generator
	mode       FuzzingMode
	env        *Env
	maxReps    int
	parser     *earleyParser
	primed     bool
}

// Option configures a grammar.
type Option func(g *Grammar)

// WithGenerator attaches a generator to a nonterminal.
func WithGenerator(sym gander.Symbol, gen *Generator) Option {
	return func(g *Grammar) {
		g.generators[sym] = gen
	}
}

// WithEnv sets the variable environment for generator and bound
// evaluation.
func WithEnv(env *Env) Option {
	return func(g *Grammar) {
		if env != nil {
			g.env = env
		}
	}
}

// WithFuzzingMode selects the fuzzing mode. Defaults to FuzzComplete.
func WithFuzzingMode(mode FuzzingMode) Option {
	return func(g *Grammar) {
		g.mode = mode
	}
}

// WithMaxRepetitions overrides the stand-in for unbounded repetition
// maxima. Defaults to DefaultMaxRepetitions.
func WithMaxRepetitions(n int) Option {
	return func(g *Grammar) {
		if n > 0 {
			g.maxReps = n
		}
	}
}

// New creates a grammar from a rule map.
func New(rules map[gander.Symbol]Node, opts ...Option) *Grammar {
	g := &Grammar{
		rules:      rules,
		generators: map[gander.Symbol]*Generator{},
		env:        NewEnv(),
		maxReps:    DefaultMaxRepetitions,
	}
	if g.rules == nil {
		g.rules = map[gander.Symbol]Node{}
	}
	for _, opt := range opts {
		opt(g)
	}
	g.parser = newEarleyParser(g)
	return g
}

// Rule returns the rule body for a nonterminal.
func (g *Grammar) Rule(sym gander.Symbol) (Node, bool) {
	n, ok := g.rules[sym]
	return n, ok
}

// SetRule adds or replaces a rule. The parser tables are rebuilt and the
// grammar needs to be primed again.
func (g *Grammar) SetRule(sym gander.Symbol, body Node) {
	g.rules[sym] = body
	g.parser = newEarleyParser(g)
	g.primed = false
}

// Symbols returns the defined nonterminals, in no particular order.
func (g *Grammar) Symbols() []gander.Symbol {
	syms := make([]gander.Symbol, 0, len(g.rules))
	for sym := range g.rules {
		syms = append(syms, sym)
	}
	return syms
}

// Env returns the grammar's variable environment.
func (g *Grammar) Env() *Env { return g.env }

// MaxRepetitions returns the stand-in for unbounded repetition maxima.
func (g *Grammar) MaxRepetitions() int { return g.maxReps }

// SetMaxRepetitions overrides the stand-in for unbounded repetition
// maxima.
func (g *Grammar) SetMaxRepetitions(n int) {
	if n > 0 {
		g.maxReps = n
	}
}

// FuzzingMode returns the grammar's fuzzing mode.
func (g *Grammar) FuzzingMode() FuzzingMode { return g.mode }

// HasGenerator reports whether a generator is attached to the symbol.
func (g *Grammar) HasGenerator(sym gander.Symbol) bool {
	_, ok := g.generators[sym]
	return ok
}

// SetGenerator attaches a generator to a nonterminal.
func (g *Grammar) SetGenerator(sym gander.Symbol, gen *Generator) {
	g.generators[sym] = gen
}

// RemoveGenerator detaches the generator of a nonterminal, if any.
func (g *Grammar) RemoveGenerator(sym gander.Symbol) {
	delete(g.generators, sym)
}

// GeneratorFor returns the generator attached to a nonterminal.
func (g *Grammar) GeneratorFor(sym gander.Symbol) *Generator {
	return g.generators[sym]
}

// Update merges the rules, generators and environment of another grammar
// into this one. A rule of the incoming grammar without a generator
// removes a generator previously attached to the same symbol. Parser
// tables are rebuilt; call Prime afterwards (or pass prime=true).
func (g *Grammar) Update(other *Grammar, prime bool) error {
	for sym, rule := range other.rules {
		g.rules[sym] = rule
	}
	g.mode = other.mode
	for sym, gen := range other.generators {
		g.generators[sym] = gen
	}
	for sym := range other.rules {
		if _, ok := other.generators[sym]; !ok {
			delete(g.generators, sym)
		}
	}
	g.parser = newEarleyParser(g)
	g.env.Update(other.env)
	if prime {
		return g.Prime()
	}
	g.primed = false
	return nil
}

func (g *Grammar) String() string {
	s := ""
	for sym, rule := range g.rules {
		s += fmt.Sprintf("%s ::= %s", sym.Name(), rule)
		if gen, ok := g.generators[sym]; ok {
			s += " := " + gen.String()
		}
		s += "\n"
	}
	return s
}

// RuleString returns the display form of a single rule.
func (g *Grammar) RuleString(sym gander.Symbol) string {
	rule, ok := g.rules[sym]
	if !ok {
		return sym.Name() + " ::= <undefined>"
	}
	s := fmt.Sprintf("%s ::= %s", sym.Name(), rule)
	if gen, ok := g.generators[sym]; ok {
		s += " := " + gen.String()
	}
	return s
}

// MsgParties returns the protocol parties occurring anywhere in the
// grammar.
func (g *Grammar) MsgParties(includeRecipients bool) []string {
	found := map[string]bool{}
	for _, rule := range g.rules {
		for p := range msgParties(rule, g, map[gander.Symbol]bool{}, includeRecipients) {
			found[p] = true
		}
	}
	parties := make([]string, 0, len(found))
	for p := range found {
		parties = append(parties, p)
	}
	return parties
}

// CheckNoNestedParties validates that party-tagged nonterminals are not
// nested inside the definition of another party-tagged nonterminal. A
// message belongs to exactly one party; nesting would make the message
// boundaries ambiguous.
func (g *Grammar) CheckNoNestedParties(start gander.Symbol) error {
	rule, ok := g.rules[start]
	if !ok {
		return validationErrorf("start symbol %s not defined in grammar", start.Name())
	}
	seen := map[gander.Symbol]bool{}
	path := []gander.Symbol{start}
	return g.checkNoNestedParties(rule, seen, path)
}

func (g *Grammar) checkNoNestedParties(n Node, seen map[gander.Symbol]bool, path []gander.Symbol) error {
	if node, ok := n.(*NonTermRef); ok {
		if !seen[node.Symbol] {
			seen[node.Symbol] = true
		} else if node.Sender != "" && onPath(path, node.Symbol) {
			return validationErrorf("illegal packet definition within packet definition of %s (derivation path: %v)",
				node.Symbol.Name(), path)
		} else {
			return nil
		}
		rule, ok := g.rules[node.Symbol]
		if !ok {
			return nil // undefined references are reported by Prime
		}
		if node.Sender != "" {
			parties := msgParties(rule, g, map[gander.Symbol]bool{}, false)
			if len(parties) != 0 {
				return validationErrorf("illegal packet definitions within packet definition of %s",
					node.Symbol.Name())
			}
			return nil
		}
		return g.checkNoNestedParties(rule, seen, append(path, node.Symbol))
	}
	for _, c := range n.IRChildren() {
		if err := g.checkNoNestedParties(c, seen, path); err != nil {
			return err
		}
	}
	return nil
}

func onPath(path []gander.Symbol, sym gander.Symbol) bool {
	for _, p := range path {
		if p == sym {
			return true
		}
	}
	return false
}

// ContainsBits reports whether the grammar can produce a bit leaf from
// start.
func (g *Grammar) ContainsBits(start gander.Symbol) (bool, error) {
	return g.containsKind(start, gander.BitKind)
}

// ContainsBytes reports whether the grammar can produce a byte-literal
// leaf from start.
func (g *Grammar) ContainsBytes(start gander.Symbol) (bool, error) {
	return g.containsKind(start, gander.BytesKind)
}

// ContainsStrings reports whether the grammar can produce a string leaf
// from start.
func (g *Grammar) ContainsStrings(start gander.Symbol) (bool, error) {
	return g.containsKind(start, gander.StringKind)
}

func (g *Grammar) containsKind(start gander.Symbol, kind gander.SymbolKind) (bool, error) {
	startRule, ok := g.rules[start]
	if !ok {
		return false, validationErrorf("start symbol %s not defined in grammar", start.Name())
	}
	seen := map[Node]bool{}
	var matches func(n Node) bool
	matches = func(n Node) bool {
		if seen[n] {
			return false
		}
		seen[n] = true
		switch node := n.(type) {
		case *TermLit:
			if node.Symbol.Kind() == kind {
				return true
			}
		case *CharSet:
			if kind == gander.StringKind && len(node.Chars) > 0 {
				return true
			}
		case *NonTermRef:
			if rule, ok := g.rules[node.Symbol]; ok {
				return matches(rule)
			}
		}
		for _, c := range n.IRChildren() {
			if matches(c) {
				return true
			}
		}
		return false
	}
	return matches(startRule), nil
}

// --- Repetition bounds ------------------------------------------------------

// MinCount evaluates the repetition minimum against the current partial
// tree t (which may be nil for pure bounds). The result of a pure bound
// is cached.
func (r *Repeat) MinCount(g *Grammar, t *tree.Tree) (int, error) {
	if r.staticMin != nil {
		return *r.staticMin, nil
	}
	min, static, err := g.computeRepBound(r.Min, t)
	if err != nil {
		return 0, err
	}
	if static {
		r.staticMin = &min
	}
	return min, nil
}

// MaxCount evaluates the repetition maximum against the current partial
// tree t. The maximum is re-evaluated on every call, so that pure bounds
// stay sensitive to environment updates.
func (r *Repeat) MaxCount(g *Grammar, t *tree.Tree) (int, error) {
	max, _, err := g.computeRepBound(r.Max, t)
	return max, err
}

// computeRepBound evaluates a bound expression. A bound with path queries
// resolves them against the current partial tree: the query runs on the
// tree's root and the last match wins. The located subtree and the paths
// leading to it are marked read-only, so later mutations cannot
// invalidate the repetition count.
func (g *Grammar) computeRepBound(b *Bound, t *tree.Tree) (int, bool, error) {
	if b == nil || b.Eval == nil {
		// the "None" sentinel
		return g.maxReps, true, nil
	}
	if len(b.Searches) == 0 {
		n, err := b.Eval(g.env.Clone(), nil)
		return n, err == nil, err
	}
	if t == nil {
		return 0, false, fmt.Errorf("bound %q needs a derivation tree to resolve its searches", b.Text)
	}
	if len(b.Searches) != 1 {
		return 0, false, fmt.Errorf("computed repetition requires exactly one or zero searches")
	}
	var name string
	var query *Query
	for n, q := range b.Searches {
		name, query = n, q
	}
	found := query.Find(t.GetRoot(false))
	if len(found) == 0 {
		return 0, false, fmt.Errorf("couldn't find search target (%s) in prefixed derivation tree for computed repetition", query)
	}
	target := found[len(found)-1]
	target.SetAllReadOnly(true)
	targetPath := target.GetPath()
	treePath := t.GetPath()
	firstUncommon := 0
	for idx := 0; idx < len(targetPath) && idx < len(treePath); idx++ {
		if targetPath[idx].Symbol() == treePath[idx].Symbol() {
			firstUncommon = idx + 1
		} else {
			break
		}
	}
	for _, p := range targetPath[min(firstUncommon, len(targetPath)):] {
		p.SetReadOnly(true)
	}
	for _, p := range treePath[min(firstUncommon, len(treePath)):] {
		p.SetReadOnly(true)
	}
	n, err := b.Eval(g.env.Clone(), map[string]*tree.Tree{name: target})
	return n, false, err
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- Generator machinery ----------------------------------------------------

// GeneratorDependencies returns the nonterminals feeding the generator of
// a symbol.
func (g *Grammar) GeneratorDependencies(sym gander.Symbol) []gander.Symbol {
	gen, ok := g.generators[sym]
	if !ok {
		return nil
	}
	seen := map[gander.Symbol]bool{}
	var deps []gander.Symbol
	for _, nt := range gen.Params {
		if !seen[nt] {
			seen[nt] = true
			deps = append(deps, nt)
		}
	}
	return deps
}

// IsUseGenerator reports whether the node's symbol carries a generator
// which is applicable at the node's position: none of the node's
// ancestors is itself a dependency of the generator (cycle guard).
func (g *Grammar) IsUseGenerator(t *tree.Tree) bool {
	sym := t.Symbol()
	if !sym.IsNonTerm() {
		return false
	}
	if _, ok := g.generators[sym]; !ok {
		return false
	}
	onPath := map[gander.Symbol]bool{}
	for _, node := range t.GetPath() {
		onPath[node.Symbol()] = true
	}
	for _, dep := range g.GeneratorDependencies(sym) {
		if onPath[dep] {
			return false
		}
	}
	return true
}

// GenerateString runs the generator of a symbol over the given source
// trees and returns the produced value (string, []byte, int or
// tree.Pair).
func (g *Grammar) GenerateString(sym gander.Symbol, sources []*tree.Tree) (interface{}, error) {
	gen, ok := g.generators[sym]
	if !ok || gen.Call == nil {
		return nil, validationErrorf("%s: no generator", sym.Name())
	}
	bySymbol := map[gander.Symbol]*tree.Tree{}
	for _, src := range sources {
		bySymbol[src.Symbol()] = src
	}
	args := map[string]*tree.Tree{}
	for id, nt := range gen.Params {
		src, ok := bySymbol[nt]
		if !ok {
			return nil, validationErrorf("%s: missing generator parameter", nt.Name())
		}
		args[id] = src
	}
	return gen.Call(g.env.Clone(), args)
}

// Generate runs the generator of a symbol, parses its output under the
// symbol, and attaches deep copies of the sources to the resulting tree.
func (g *Grammar) Generate(sym gander.Symbol, sources []*tree.Tree) (*tree.Tree, error) {
	produced, err := g.GenerateString(sym, sources)
	if err != nil {
		return nil, err
	}
	var word interface{}
	switch out := produced.(type) {
	case string:
		word = out
	case []byte:
		word = out
	case int:
		word = fmt.Sprintf("%d", out)
	case tree.Pair:
		word = tree.FromPairs(out).ToString()
	default:
		return nil, generatorErrorf("generator %s must return string, bytes, int, or pairs (returned %v)",
			g.generators[sym], produced)
	}
	t, err := g.Parse(word, sym)
	if t == nil {
		return nil, generatorErrorf("could not parse %v (generated by %s) into %s: %v",
			word, g.generators[sym], sym.Name(), err)
	}
	copies := make([]*tree.Tree, len(sources))
	for i, src := range sources {
		copies[i] = src.Deepcopy()
	}
	t.SetSources(copies)
	return t, nil
}

// DeriveSources computes fresh source trees for a generator node by
// chaining the generators the node's generator depends on, in topological
// order.
func (g *Grammar) DeriveSources(t *tree.Tree) ([]*tree.Tree, error) {
	genSym := t.Symbol()
	if !genSym.IsNonTerm() {
		return nil, validationErrorf("tree %s is not a nonterminal", genSym)
	}
	gen, ok := g.generators[genSym]
	if !ok {
		return nil, validationErrorf("no generator found for tree %s", genSym.Name())
	}
	if !g.IsUseGenerator(t) {
		return nil, nil
	}
	graph := map[gander.Symbol][]gander.Symbol{genSym: nil}
	for _, nt := range gen.Params {
		if _, ok := g.rules[nt]; !ok {
			return nil, validationErrorf("symbol %s not defined in grammar. Did you mean %s?",
				nt.Name(), g.closestSymbol(nt.Name()))
		}
		if _, ok := g.generators[nt]; !ok {
			return nil, validationErrorf("%s: missing converter from %s (%s ::= ... := f(%s))",
				nt.Name(), genSym.Name(), nt.Name(), genSym.Name())
		}
		graph[nt] = g.GeneratorDependencies(nt)
	}
	order := topologicalSort(graph)
	args := []*tree.Tree{t}
	for _, sym := range order {
		if sym == genSym {
			continue
		}
		generated, err := g.Generate(sym, args)
		if err != nil {
			return nil, err
		}
		generated.SetSources(nil)
		for _, c := range generated.Children() {
			if err := g.PopulateSources(c); err != nil {
				return nil, err
			}
		}
		args = append(args, generated)
	}
	return args[1:], nil
}

// DeriveGeneratorOutput re-runs the generator of a node on its sources
// and returns the resulting children.
func (g *Grammar) DeriveGeneratorOutput(t *tree.Tree) ([]*tree.Tree, error) {
	generated, err := g.Generate(t.Symbol(), t.Sources())
	if err != nil {
		return nil, err
	}
	return generated.Children(), nil
}

// PopulateSources recomputes the sources of every generator node in the
// subtree. Existing sources are discarded first; children of generator
// nodes are marked read-only.
func (g *Grammar) PopulateSources(t *tree.Tree) error {
	recRemoveSources(t)
	return g.populateSources(t)
}

func (g *Grammar) populateSources(t *tree.Tree) error {
	if g.IsUseGenerator(t) {
		sources, err := g.DeriveSources(t)
		if err != nil {
			return err
		}
		t.SetSources(sources)
		for _, c := range t.Children() {
			c.SetAllReadOnly(true)
		}
		return nil
	}
	for _, c := range t.Children() {
		if err := g.populateSources(c); err != nil {
			return err
		}
	}
	return nil
}

func recRemoveSources(t *tree.Tree) {
	t.SetSources(nil)
	for _, c := range t.Children() {
		recRemoveSources(c)
	}
}

// topologicalSort orders the nodes of a dependency graph such that
// dependencies come before their dependents.
func topologicalSort(graph map[gander.Symbol][]gander.Symbol) []gander.Symbol {
	indegree := map[gander.Symbol]int{}
	for _, deps := range graph {
		for _, dep := range deps {
			indegree[dep]++
		}
	}
	var queue []gander.Symbol
	for sym := range graph {
		if indegree[sym] == 0 {
			queue = append(queue, sym)
		}
	}
	var order []gander.Symbol
	for len(queue) > 0 {
		sym := queue[0]
		queue = queue[1:]
		order = append(order, sym)
		for _, dep := range graph[sym] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(graph) {
		tracer().Errorf("cycle in generator dependencies")
	}
	// reverse: dependencies first
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

var _ tree.Resolver = (*Grammar)(nil)

// --- Fuzzing entry points ---------------------------------------------------

// Fuzz returns a derivation tree rooted at start whose size stays within
// maxNodes whenever the grammar admits such a tree; otherwise the
// smallest reachable tree is returned. The PRNG is an explicit
// collaborator: fuzzing is deterministic for a seeded rnd.
//
// The grammar must have been primed.
func (g *Grammar) Fuzz(rnd *rand.Rand, start gander.Symbol, maxNodes int) (*tree.Tree, error) {
	return g.FuzzInto(rnd, start, maxNodes, nil)
}

// FuzzInto fuzzes below an existing prefix node: the new derivation is
// appended to prefix's children and returned. With a nil prefix it
// behaves like Fuzz.
func (g *Grammar) FuzzInto(rnd *rand.Rand, start gander.Symbol, maxNodes int, prefix *tree.Tree) (*tree.Tree, error) {
	if !g.primed {
		return nil, validationErrorf("grammar has not been primed; call Prime first")
	}
	root := prefix
	if root == nil {
		root = tree.New(start)
	}
	fuzzedIdx := root.NumChildren()
	f := &fuzzer{g: g, rnd: rnd}
	if err := f.fuzzNonTermRef(NewNonTermRef(start), root, maxNodes, false); err != nil {
		return nil, err
	}
	result := root.Child(fuzzedIdx)
	result.Detach()
	return result, nil
}

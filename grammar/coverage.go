package grammar

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/sets/hashset"
	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
)

// k-path coverage measures the diversity of a set of derivation trees: a
// k-path is a length-k sequence of IR nodes along a derivation, and
// coverage is the fraction of the grammar's k-paths the trees exercise.
// See Havrikov & Zeller, "Systematically Covering Input Structure"
// (doi.org/10.1109/ASE.2019.00027).
//
// Since the parse trees are flat with respect to the IR (alternatives,
// concatenations and repetitions leave no trace in a tree), a
// Disambiguator maps each observable flat child sequence of a rule back
// to the IR paths which could have produced it.

// nodeKey identifies an IR node for set membership. Nonterminal
// references and terminals are identified by their symbol, everything
// else by object identity.
func nodeKey(n Node) string {
	switch node := n.(type) {
	case *NonTermRef:
		return "nt:" + node.Symbol.Name()
	case *TermLit:
		return "t:" + node.Symbol.String()
	}
	return fmt.Sprintf("@%p", n)
}

func pathKey(path []Node) string {
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = nodeKey(n)
	}
	return strings.Join(parts, "→")
}

// flatKey renders a sequence of child symbols, the observable footprint
// of an IR subexpression in a derivation tree.
func flatKey(syms []gander.Symbol) string {
	parts := make([]string, len(syms))
	for i, s := range syms {
		parts[i] = s.String()
	}
	return strings.Join(parts, "·")
}

// disambiguation maps each flat child sequence to the per-child IR
// paths which produce it.
type disambiguation map[string][][]Node

// Disambiguator assigns to each IR node a mapping from observable flat
// child sequences to the IR paths that could have produced them.
// Results are memoized per IR node.
type Disambiguator struct {
	g     *Grammar
	known map[Node]disambiguation
}

// NewDisambiguator creates a Disambiguator for a grammar.
func NewDisambiguator(g *Grammar) *Disambiguator {
	return &Disambiguator{g: g, known: map[Node]disambiguation{}}
}

func (d *Disambiguator) visit(n Node) disambiguation {
	if result, ok := d.known[n]; ok {
		return result
	}
	var result disambiguation
	switch node := n.(type) {
	case *Alt:
		result = d.visitAlt(node)
	case *Concat:
		result = d.visitConcat(node)
	case *Repeat:
		// repetitions are alternatives over concatenations
		result = d.visit(node.equivalentAlt(d.g))
	case *NonTermRef:
		result = disambiguation{flatKey([]gander.Symbol{node.Symbol}): {{node}}}
	case *TermLit:
		result = disambiguation{flatKey([]gander.Symbol{node.Symbol}): {{node}}}
	case *CharSet:
		result = disambiguation{}
		for _, ch := range node.Chars {
			sym := gander.Lit(string(ch))
			result[flatKey([]gander.Symbol{sym})] = [][]Node{{node, NewTermLit(sym)}}
		}
	}
	d.known[n] = result
	return result
}

func (d *Disambiguator) visitAlt(node *Alt) disambiguation {
	result := disambiguation{}
	for _, child := range node.Alternatives {
		endpoints := d.visit(child)
		for children, paths := range endpoints {
			for _, path := range paths {
				// join observed paths; alternatives producing the same flat
				// sequence are impossible to disambiguate
				result[children] = append(result[children], prepend(node, path))
			}
		}
	}
	return result
}

func (d *Disambiguator) visitConcat(node *Concat) disambiguation {
	current := disambiguation{"": {}}
	for _, child := range node.Nodes {
		next := disambiguation{}
		endpoints := d.visit(child)
		for children, paths := range endpoints {
			for existing, existingPaths := range current {
				key := joinFlat(existing, children)
				next[key] = append(next[key], existingPaths...)
				next[key] = append(next[key], paths...)
			}
		}
		current = next
	}
	result := disambiguation{}
	for children, paths := range current {
		for _, path := range paths {
			result[children] = append(result[children], prepend(node, path))
		}
	}
	return result
}

func joinFlat(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "·" + b
}

func prepend(n Node, path []Node) []Node {
	return append([]Node{n}, path...)
}

// --- k-path enumeration -----------------------------------------------------

// GenerateAllKPaths computes the k-paths of the grammar constructively:
// the set of length-k node sequences reachable via the descendents
// relation.
func (g *Grammar) GenerateAllKPaths(k int) [][]Node {
	initial := map[string]Node{}
	var work []Node
	for sym := range g.rules {
		work = append(work, NewNonTermRef(sym))
	}
	for len(work) > 0 {
		node := work[0]
		work = work[1:]
		key := nodeKey(node)
		if _, ok := initial[key]; ok {
			continue
		}
		initial[key] = node
		work = append(work, descendents(node, g)...)
	}

	paths := make(map[string][]Node, len(initial))
	for _, n := range initial {
		paths[pathKey([]Node{n})] = []Node{n}
	}
	for i := 1; i < k; i++ {
		next := map[string][]Node{}
		for _, base := range paths {
			for _, desc := range descendents(base[len(base)-1], g) {
				p := append(append([]Node(nil), base...), desc)
				next[pathKey(p)] = p
			}
		}
		paths = next
	}
	out := make([][]Node, 0, len(paths))
	for _, p := range paths {
		out = append(out, p)
	}
	return out
}

// ComputeKPaths is GenerateAllKPaths under the interface name used by
// coverage callers.
func (g *Grammar) ComputeKPaths(k int) [][]Node {
	return g.GenerateAllKPaths(k)
}

// TraverseDerivation enumerates the IR paths a concrete derivation tree
// exercises, using a Disambiguator to map flat child sequences back to
// IR paths.
func (g *Grammar) TraverseDerivation(t *tree.Tree, d *Disambiguator) ([][]Node, error) {
	if d == nil {
		d = NewDisambiguator(g)
	}
	collected := map[string][]Node{}
	var err error
	g.traverseDerivation(t, d, collected, nil, &err)
	if err != nil {
		return nil, err
	}
	out := make([][]Node, 0, len(collected))
	for _, p := range collected {
		out = append(out, p)
	}
	return out, nil
}

func (g *Grammar) traverseDerivation(t *tree.Tree, d *Disambiguator, collected map[string][]Node, cur []Node, err *error) {
	if *err != nil {
		return
	}
	if t.Symbol().IsTerminal() {
		if cur == nil {
			cur = []Node{NewTermLit(t.Symbol())}
		}
		collected[pathKey(cur)] = cur
		return
	}
	if cur == nil {
		cur = []Node{NewNonTermRef(t.Symbol())}
	}
	rule, ok := g.rules[t.Symbol()]
	if !ok {
		*err = validationErrorf("symbol %s not found in grammar", t.Symbol().Name())
		return
	}
	dis := d.visit(rule)
	syms := make([]gander.Symbol, t.NumChildren())
	for i, c := range t.Children() {
		syms[i] = c.Symbol()
	}
	paths, ok := dis[flatKey(syms)]
	if !ok {
		*err = validationErrorf("cannot disambiguate children of %s", t.Symbol().Name())
		return
	}
	for i, c := range t.Children() {
		if i >= len(paths) {
			break
		}
		g.traverseDerivation(c, d, collected, append(append([]Node(nil), cur...), paths[i]...), err)
	}
}

// --- Coverage scores --------------------------------------------------------

// ComputeGrammarCoverage computes the k-path coverage of the grammar for
// a set of derivation trees: the fraction of the grammar's k-paths the
// trees exercise, together with the covered and total counts.
func (g *Grammar) ComputeGrammarCoverage(trees []*tree.Tree, k int) (float64, int, int, error) {
	all := g.ComputeKPaths(k)
	if len(all) == 0 {
		return 0, 0, 0, validationErrorf("no k-paths found in the grammar")
	}
	allSet := hashset.New()
	for _, p := range all {
		allSet.Add(pathKey(p))
	}
	covered := hashset.New()
	d := NewDisambiguator(g)
	for _, t := range trees {
		paths, err := g.TraverseDerivation(t, d)
		if err != nil {
			return 0, 0, 0, err
		}
		for _, path := range paths {
			for window := 0; window+k <= len(path); window++ {
				key := pathKey(path[window : window+k])
				if allSet.Contains(key) {
					covered.Add(key)
				}
			}
		}
	}
	return float64(covered.Size()) / float64(allSet.Size()), covered.Size(), allSet.Size(), nil
}

// ComputeKPathCoverage returns the coverage ratio alone.
func (g *Grammar) ComputeKPathCoverage(trees []*tree.Tree, k int) (float64, error) {
	ratio, _, _, err := g.ComputeGrammarCoverage(trees, k)
	return ratio, err
}

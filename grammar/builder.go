package grammar

import (
	"fmt"

	"github.com/npillmayer/gander"
)

// GrammarBuilder is a fluent builder for grammars, standing in for a DSL
// front-end. Rules are assembled one right-hand side at a time:
//
//	b := grammar.NewGrammarBuilder("Digits")
//	b.LHS("<start>").Plus(b.N("<digit>")).End()
//	b.LHS("<digit>").CharSet("0123456789").End()
//	g, err := b.Grammar()
//
// Several rules for the same left-hand side accumulate into an
// alternative. Repetition helpers wrap an inner expression built with the
// expression constructors N, T, TB, Bit, Pattern and Seq.
type GrammarBuilder struct {
	name    string
	order   []gander.Symbol
	rules   map[gander.Symbol][]Node
	serial  int
	errs    []error
}

// NewGrammarBuilder creates a grammar builder with a (purely informative)
// name.
func NewGrammarBuilder(name string) *GrammarBuilder {
	return &GrammarBuilder{
		name:  name,
		rules: map[gander.Symbol][]Node{},
	}
}

func (b *GrammarBuilder) freshID() string {
	b.serial++
	return fmt.Sprintf("%s.%d", b.name, b.serial)
}

// --- Expression constructors ------------------------------------------------

// N creates a reference to a nonterminal.
func (b *GrammarBuilder) N(name string) Node {
	return NewNonTermRef(gander.NT(name))
}

// Party creates a nonterminal reference tagged with protocol parties.
func (b *GrammarBuilder) Party(name, sender, recipient string) Node {
	return NewPartyRef(gander.NT(name), sender, recipient)
}

// T creates a string-literal terminal.
func (b *GrammarBuilder) T(lit string) Node {
	return NewTermLit(gander.Lit(lit))
}

// TB creates a byte-literal terminal.
func (b *GrammarBuilder) TB(lit []byte) Node {
	return NewTermLit(gander.ByteLit(lit))
}

// Bit creates a single-bit terminal.
func (b *GrammarBuilder) Bit(v int) Node {
	return NewTermLit(gander.Bit(v))
}

// Pattern creates a regex terminal over the string domain.
func (b *GrammarBuilder) Pattern(expr string) Node {
	return NewTermLit(gander.Pattern(expr))
}

// BytePattern creates a regex terminal over the byte domain.
func (b *GrammarBuilder) BytePattern(expr string) Node {
	return NewTermLit(gander.BytePattern(expr))
}

// Seq groups several expressions into a concatenation.
func (b *GrammarBuilder) Seq(nodes ...Node) Node {
	return NewConcat(b.freshID(), nodes...)
}

// Choice groups several expressions into an alternative.
func (b *GrammarBuilder) Choice(nodes ...Node) Node {
	return NewAlt(b.freshID(), nodes...)
}

// --- Rule building ----------------------------------------------------------

// RuleBuilder builds one right-hand side of a rule. Obtain one with
// GrammarBuilder.LHS and finish the rule with End.
type RuleBuilder struct {
	b   *GrammarBuilder
	lhs gander.Symbol
	seq []Node
}

// LHS starts a new right-hand side for the named nonterminal.
func (b *GrammarBuilder) LHS(name string) *RuleBuilder {
	return &RuleBuilder{b: b, lhs: gander.NT(name)}
}

// N appends a nonterminal reference.
func (rb *RuleBuilder) N(name string) *RuleBuilder {
	rb.seq = append(rb.seq, rb.b.N(name))
	return rb
}

// Party appends a party-tagged nonterminal reference.
func (rb *RuleBuilder) Party(name, sender, recipient string) *RuleBuilder {
	rb.seq = append(rb.seq, rb.b.Party(name, sender, recipient))
	return rb
}

// T appends a string-literal terminal.
func (rb *RuleBuilder) T(lit string) *RuleBuilder {
	rb.seq = append(rb.seq, rb.b.T(lit))
	return rb
}

// TB appends a byte-literal terminal.
func (rb *RuleBuilder) TB(lit []byte) *RuleBuilder {
	rb.seq = append(rb.seq, rb.b.TB(lit))
	return rb
}

// Bit appends a single-bit terminal.
func (rb *RuleBuilder) Bit(v int) *RuleBuilder {
	rb.seq = append(rb.seq, rb.b.Bit(v))
	return rb
}

// Pattern appends a regex terminal.
func (rb *RuleBuilder) Pattern(expr string) *RuleBuilder {
	rb.seq = append(rb.seq, rb.b.Pattern(expr))
	return rb
}

// CharSet appends a character-set terminal.
func (rb *RuleBuilder) CharSet(chars string) *RuleBuilder {
	rb.seq = append(rb.seq, NewCharSet(chars))
	return rb
}

// Node appends a pre-built expression.
func (rb *RuleBuilder) Node(n Node) *RuleBuilder {
	rb.seq = append(rb.seq, n)
	return rb
}

// Repeat appends an expression repeated between min and max times.
func (rb *RuleBuilder) Repeat(inner Node, min, max int) *RuleBuilder {
	rb.seq = append(rb.seq, NewRepeat(rb.b.freshID(), inner, StaticBound(min), StaticBound(max)))
	return rb
}

// RepeatBounds appends an expression with explicit (possibly
// data-dependent) bounds.
func (rb *RuleBuilder) RepeatBounds(inner Node, min, max *Bound) *RuleBuilder {
	rb.seq = append(rb.seq, NewRepeat(rb.b.freshID(), inner, min, max))
	return rb
}

// Times appends an expression repeated exactly n times.
func (rb *RuleBuilder) Times(inner Node, n int) *RuleBuilder {
	return rb.Repeat(inner, n, n)
}

// Star appends a zero-or-more repetition.
func (rb *RuleBuilder) Star(inner Node) *RuleBuilder {
	rb.seq = append(rb.seq, NewStar(rb.b.freshID(), inner))
	return rb
}

// Plus appends a one-or-more repetition.
func (rb *RuleBuilder) Plus(inner Node) *RuleBuilder {
	rb.seq = append(rb.seq, NewPlus(rb.b.freshID(), inner))
	return rb
}

// Option appends a zero-or-one repetition.
func (rb *RuleBuilder) Option(inner Node) *RuleBuilder {
	rb.seq = append(rb.seq, NewOption(rb.b.freshID(), inner))
	return rb
}

// End closes the right-hand side and registers it with the builder.
func (rb *RuleBuilder) End() {
	if len(rb.seq) == 0 {
		rb.b.errs = append(rb.b.errs, fmt.Errorf("empty right-hand side for %s", rb.lhs.Name()))
		return
	}
	var body Node
	if len(rb.seq) == 1 {
		body = rb.seq[0]
	} else {
		body = NewConcat(rb.b.freshID(), rb.seq...)
	}
	if _, ok := rb.b.rules[rb.lhs]; !ok {
		rb.b.order = append(rb.b.order, rb.lhs)
	}
	rb.b.rules[rb.lhs] = append(rb.b.rules[rb.lhs], body)
}

// Grammar assembles the collected rules into a Grammar. Nonterminals with
// several right-hand sides become alternatives.
func (b *GrammarBuilder) Grammar(opts ...Option) (*Grammar, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.rules) == 0 {
		return nil, fmt.Errorf("grammar %s has no rules", b.name)
	}
	rules := make(map[gander.Symbol]Node, len(b.rules))
	for _, lhs := range b.order {
		bodies := b.rules[lhs]
		if len(bodies) == 1 {
			rules[lhs] = bodies[0]
		} else {
			rules[lhs] = NewAlt(b.freshID(), bodies...)
		}
	}
	return New(rules, opts...), nil
}

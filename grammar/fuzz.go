package grammar

import (
	"math/rand"

	"github.com/lucasjones/reggen"
	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
)

// The fuzzer expands a start symbol top-down at random, bounded by a node
// budget. Whenever the primed distance-to-completion of a node meets or
// exceeds the remaining budget, the fuzzer switches to forced minimum
// completions: alternatives pick only shortest branches, repetitions stop
// at their minimum count. The PRNG is threaded through explicitly, so a
// seeded run is reproducible.

type fuzzer struct {
	g   *Grammar
	rnd *rand.Rand
}

func (f *fuzzer) fuzz(n Node, parent *tree.Tree, maxNodes int, inMessage bool) error {
	switch node := n.(type) {
	case *Alt:
		return f.fuzzAlt(node, parent, maxNodes, inMessage)
	case *Concat:
		return f.fuzzConcat(node, parent, maxNodes, inMessage)
	case *Repeat:
		return f.fuzzRepeat(node, parent, maxNodes, inMessage)
	case *NonTermRef:
		return f.fuzzNonTermRef(node, parent, maxNodes, inMessage)
	case *TermLit:
		return f.fuzzTerminal(node, parent)
	case *CharSet:
		return f.fuzzCharSet(node, parent)
	}
	return nil
}

func (f *fuzzer) fuzzAlt(node *Alt, parent *tree.Tree, maxNodes int, inMessage bool) error {
	if node.Distance() >= float64(maxNodes) {
		best := inf
		for _, a := range node.Alternatives {
			if a.Distance() < best {
				best = a.Distance()
			}
		}
		var shortest []Node
		for _, a := range node.Alternatives {
			if a.Distance() <= best {
				shortest = append(shortest, a)
			}
		}
		return f.fuzz(shortest[f.rnd.Intn(len(shortest))], parent, 0, inMessage)
	}
	pick := node.Alternatives[f.rnd.Intn(len(node.Alternatives))]
	return f.fuzz(pick, parent, maxNodes-1, inMessage)
}

func (f *fuzzer) fuzzConcat(node *Concat, parent *tree.Tree, maxNodes int, inMessage bool) error {
	prevSize := parent.Size()
	for _, child := range node.Nodes {
		if child.Distance() >= float64(maxNodes) {
			if err := f.fuzz(child, parent, 0, inMessage); err != nil {
				return err
			}
		} else {
			if err := f.fuzz(child, parent, maxNodes-1, inMessage); err != nil {
				return err
			}
		}
		maxNodes -= parent.Size() - prevSize
		prevSize = parent.Size()
	}
	return nil
}

func (f *fuzzer) fuzzRepeat(node *Repeat, parent *tree.Tree, maxNodes int, inMessage bool) error {
	prevSize := parent.Size()
	currentMin, err := node.MinCount(f.g, parent)
	if err != nil {
		return err
	}
	currentMax, err := node.MaxCount(f.g, parent)
	if err != nil {
		return err
	}
	if currentMax < currentMin {
		currentMax = currentMin
	}
	reps := currentMin + f.rnd.Intn(currentMax-currentMin+1)
	for rep := 0; rep < reps; rep++ {
		if node.Inner.Distance() >= float64(maxNodes) {
			if rep >= currentMin {
				break
			}
			if err := f.fuzz(node.Inner, parent, 0, inMessage); err != nil {
				return err
			}
		} else {
			if err := f.fuzz(node.Inner, parent, maxNodes-1, inMessage); err != nil {
				return err
			}
		}
		maxNodes -= parent.Size() - prevSize
		prevSize = parent.Size()
	}
	return nil
}

func (f *fuzzer) fuzzNonTermRef(node *NonTermRef, parent *tree.Tree, maxNodes int, inMessage bool) error {
	rule, ok := f.g.rules[node.Symbol]
	if !ok {
		return validationErrorf("symbol %s not found in grammar. Did you mean %s?",
			node.Symbol.Name(), f.g.closestSymbol(node.Symbol.Name()))
	}
	dummy := tree.New(node.Symbol)
	parent.AddChild(dummy)

	if f.g.IsUseGenerator(dummy) {
		for _, nt := range f.g.GeneratorDependencies(node.Symbol) {
			if err := f.fuzzNonTermRef(NewNonTermRef(nt), dummy, maxNodes-1, false); err != nil {
				return err
			}
		}
		params := append([]*tree.Tree(nil), dummy.Children()...)
		dummy.SetChildren(nil)
		for _, p := range params {
			p.Detach()
		}
		generated, err := f.g.Generate(node.Symbol, params)
		if err != nil {
			parent.DropLastChild()
			return err
		}
		// generated children are owned by the generator now
		for _, c := range generated.Children() {
			c.SetAllReadOnly(true)
		}
		generated.SetSender(node.Sender)
		generated.SetRecipient(node.Recipient)
		parent.DropLastChild()
		parent.AddChild(generated)
		return nil
	}
	parent.DropLastChild()

	assignSender, assignRecipient := "", ""
	if !inMessage && node.Sender != "" {
		assignSender = node.Sender
		assignRecipient = node.Recipient
		inMessage = true
	}
	current := tree.New(node.Symbol)
	current.SetSender(assignSender)
	current.SetRecipient(assignRecipient)
	parent.AddChild(current)
	return f.fuzz(rule, current, maxNodes-1, inMessage)
}

func (f *fuzzer) fuzzTerminal(node *TermLit, parent *tree.Tree) error {
	sym := node.Symbol
	if sym.IsRegex() {
		instance, err := f.sample(sym.Name())
		if err != nil {
			return generatorErrorf("cannot sample from pattern %s: %v", sym, err)
		}
		if sym.InByteDomain() {
			// patterns over bytes are sampled in latin-1 and re-encoded
			b := make([]byte, 0, len(instance))
			for _, r := range instance {
				b = append(b, byte(r))
			}
			parent.AddChild(tree.New(gander.ByteLit(b)))
			return nil
		}
		parent.AddChild(tree.New(gander.Lit(instance)))
		return nil
	}
	parent.AddChild(tree.New(sym))
	return nil
}

func (f *fuzzer) fuzzCharSet(node *CharSet, parent *tree.Tree) error {
	chars := []rune(node.Chars)
	if len(chars) == 0 {
		return validationErrorf("cannot fuzz an empty char set")
	}
	pick := chars[f.rnd.Intn(len(chars))]
	parent.AddChild(tree.New(gander.Lit(string(pick))))
	return nil
}

// sample draws one string matching the pattern, seeded from the fuzzer's
// PRNG so that runs stay reproducible.
func (f *fuzzer) sample(pattern string) (string, error) {
	gen, err := reggen.NewGenerator(pattern)
	if err != nil {
		return "", err
	}
	gen.SetSeed(f.rnd.Int63())
	return gen.Generate(f.g.maxReps), nil
}

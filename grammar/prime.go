package grammar

// Priming computes, for every reachable IR node, the minimum number of
// expansions needed to complete a derivation from it. The fuzzer consults
// these distances to force shortest completions when its node budget is
// exhausted. The computation is a worklist fixed point: a node is
// (re-)examined until all its dependencies have finite distances;
// termination follows from monotone decrease on the first finite
// assignment. A node which never becomes finite makes the grammar
// non-terminating.

// Prime computes distance-to-completion for every IR node. It must be
// called once before fuzzing (and again after Update with prime=false).
// A grammar in which some rule can never derive a finite tree is
// rejected with a ValidationError.
func (g *Grammar) Prime() error {
	var worklist []Node
	for _, rule := range g.rules {
		worklist = append(worklist, collectPrimeNodes(rule)...)
	}
	// Bound the number of fruitless passes: every pass over the worklist
	// must assign at least one distance, otherwise we are stuck.
	stuck := 0
	for len(worklist) > 0 && stuck <= len(worklist) {
		node := worklist[0]
		worklist = worklist[1:]
		progressed := true
		switch n := node.(type) {
		case *TermLit, *CharSet:
			// distance 0, nothing to do
		case *NonTermRef:
			rule, ok := g.rules[n.Symbol]
			if !ok {
				return validationErrorf("symbol %s not found in grammar. Did you mean %s?",
					n.Symbol.Name(), g.closestSymbol(n.Symbol.Name()))
			}
			if rule.Distance() == inf {
				worklist = append(worklist, n)
				progressed = false
			} else {
				n.setDistance(rule.Distance() + 1)
			}
		case *Alt:
			best := inf
			for _, a := range n.Alternatives {
				if a.Distance() < best {
					best = a.Distance()
				}
			}
			if best == inf {
				worklist = append(worklist, n)
				progressed = false
			} else {
				n.setDistance(best + 1)
			}
		case *Concat:
			sum := 0.0
			finite := true
			for _, c := range n.Nodes {
				if c.Distance() == inf {
					finite = false
					break
				}
				sum += c.Distance()
			}
			if !finite {
				worklist = append(worklist, n)
				progressed = false
			} else {
				n.setDistance(sum + 1)
			}
		case *Repeat:
			if n.Inner.Distance() == inf {
				worklist = append(worklist, n)
				progressed = false
			} else {
				// A bound which needs runtime data conservatively counts
				// as zero repetitions.
				minRep, err := n.MinCount(g, nil)
				if err != nil {
					minRep = 0
				}
				n.setDistance(n.Inner.Distance()*float64(minRep) + 1)
			}
		}
		if progressed {
			stuck = 0
		} else {
			stuck++
		}
	}
	if len(worklist) > 0 {
		return validationErrorf("grammar is non-terminating: %d IR nodes never complete (first: %s)",
			len(worklist), worklist[0])
	}
	g.primed = true
	return nil
}

// collectPrimeNodes returns the IR nodes of a rule body which take part
// in the priming fixed point, innermost first. Terminals and char sets
// are born with distance 0 and are skipped.
func collectPrimeNodes(n Node) []Node {
	var nodes []Node
	switch node := n.(type) {
	case *Alt:
		for _, a := range node.Alternatives {
			nodes = append(nodes, collectPrimeNodes(a)...)
		}
		nodes = append(nodes, node)
	case *Concat:
		for _, c := range node.Nodes {
			nodes = append(nodes, collectPrimeNodes(c)...)
		}
		nodes = append(nodes, node)
	case *Repeat:
		nodes = append(nodes, collectPrimeNodes(node.Inner)...)
		nodes = append(nodes, node)
	case *NonTermRef:
		nodes = append(nodes, node)
	}
	return nodes
}

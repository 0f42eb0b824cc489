package tree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/npillmayer/gander"
)

// Subtree replacement is the workhorse of evolutionary mutation: a caller
// selects subtrees of a parsed tree and swaps fuzzed alternatives in. A
// replacement rebuilds the spine from the root down, so the original tree
// is left untouched. Subtrees owned by a generator (marked read-only) are
// silently skipped, and generator sources and outputs are re-derived
// whenever a replacement invalidates them; for that, the replacement
// operations consult a Resolver, implemented by grammar.Grammar.

// Resolver re-derives generator-owned parts of a tree after replacements.
type Resolver interface {
	// IsUseGenerator reports whether the node's symbol carries a generator
	// which is applicable at the node's position (no generator-dependency
	// cycle through its ancestors).
	IsUseGenerator(t *Tree) bool
	// HasGenerator reports whether a generator is attached to the symbol.
	HasGenerator(sym gander.Symbol) bool
	// DeriveSources computes fresh source trees for a generator node.
	DeriveSources(t *Tree) ([]*Tree, error)
	// DeriveGeneratorOutput re-runs the generator on the node's sources
	// and returns the resulting children.
	DeriveGeneratorOutput(t *Tree) ([]*Tree, error)
	// PopulateSources recomputes the sources of every generator node in
	// the subtree.
	PopulateSources(t *Tree) error
}

// Step is one step of a choices path: descending into a child or into a
// source of a node.
type Step struct {
	Source bool
	Index  int
}

func (s Step) String() string {
	if s.Source {
		return "s" + strconv.Itoa(s.Index)
	}
	return "c" + strconv.Itoa(s.Index)
}

func encodeSteps(steps []Step) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// ChoicesPath returns the chain of child/source steps from the root down
// to t.
func (t *Tree) ChoicesPath() ([]Step, error) {
	var path []Step
	current := t
	for current.parent != nil {
		parent := current.parent
		if idx := indexByReference(parent.children, current); idx >= 0 {
			path = append([]Step{{Index: idx}}, path...)
		} else if idx := indexByReference(parent.sources, current); idx >= 0 {
			path = append([]Step{{Source: true, Index: idx}}, path...)
		} else if idx := indexByValue(parent.sources, current); idx >= 0 {
			// fall back to value identity for re-derived sources
			path = append([]Step{{Source: true, Index: idx}}, path...)
		} else {
			return nil, fmt.Errorf("tree node %s not found among its parent's children or sources", current.sym)
		}
		current = parent
	}
	return path, nil
}

func indexByReference(list []*Tree, target *Tree) int {
	for i, t := range list {
		if t == target {
			return i
		}
	}
	return -1
}

func indexByValue(list []*Tree, target *Tree) int {
	for i, t := range list {
		if t.Equals(target) {
			return i
		}
	}
	return -1
}

func (t *Tree) choicesPathBelow(root *Tree) []Step {
	var path []Step
	for cur := t; cur != root && cur.parent != nil; cur = cur.parent {
		if idx := indexByReference(cur.parent.children, cur); idx >= 0 {
			path = append([]Step{{Index: idx}}, path...)
		} else if idx := indexByReference(cur.parent.sources, cur); idx >= 0 {
			path = append([]Step{{Source: true, Index: idx}}, path...)
		}
	}
	return path
}

func (t *Tree) nodeAtChoicesPath(path []Step) *Tree {
	cur := t
	for _, s := range path {
		if s.Source {
			cur = cur.sources[s.Index]
		} else {
			cur = cur.children[s.Index]
		}
	}
	return cur
}

// Replace returns a copy of the tree in which the subtree old has been
// replaced by new. If old is read-only the replacement is silently
// skipped and the copy equals the original.
func (t *Tree) Replace(r Resolver, old, new *Tree) (*Tree, error) {
	return t.ReplaceMultiple(r, []Replacement{{Old: old, New: new}})
}

// Replacement pairs a subtree of the receiver with its substitute.
type Replacement struct {
	Old *Tree
	New *Tree
}

// ReplaceMultiple applies several subtree replacements in one pass,
// re-deriving generator sources and outputs where necessary.
func (t *Tree) ReplaceMultiple(r Resolver, replacements []Replacement) (*Tree, error) {
	pathTo := make(map[string]*Tree, len(replacements))
	for _, rp := range replacements {
		path, err := rp.Old.ChoicesPath()
		if err != nil {
			return nil, err
		}
		pathTo[encodeSteps(path)] = rp.New
	}
	start, err := t.ChoicesPath()
	if err != nil {
		return nil, err
	}
	return t.replaceMultiple(r, pathTo, start)
}

func (t *Tree) replaceMultiple(r Resolver, pathTo map[string]*Tree, currentPath []Step) (*Tree, error) {
	if repl, ok := pathTo[encodeSteps(currentPath)]; ok && !t.readOnly {
		newSubtree := repl.clone(false)
		if err := r.PopulateSources(newSubtree); err != nil {
			return nil, err
		}
		newSubtree.parent = t.parent
		return newSubtree, nil
	}

	sourcesChanged := false
	childrenChanged := false
	var sources []*Tree
	for i, src := range t.sources {
		newSrc, err := src.replaceMultiple(r, pathTo, append(currentPath[:len(currentPath):len(currentPath)], Step{Source: true, Index: i}))
		if err != nil {
			return nil, err
		}
		sources = append(sources, newSrc)
		if !newSrc.Equals(src) {
			sourcesChanged = true
		}
	}
	var newChildren []*Tree
	for i, c := range t.children {
		newChild, err := c.replaceMultiple(r, pathTo, append(currentPath[:len(currentPath):len(currentPath)], Step{Index: i}))
		if err != nil {
			return nil, err
		}
		newChildren = append(newChildren, newChild)
		if !newChild.Equals(c) {
			childrenChanged = true
		}
	}

	newTree := New(t.sym, newChildren...)
	newTree.sender = t.sender
	newTree.recipient = t.recipient
	newTree.readOnly = t.readOnly
	newTree.SetSources(sources)
	// The parent link is attached last so that size bookkeeping of the
	// original tree stays untouched while the copy is assembled.
	defer func() { newTree.parent = t.parent }()

	if !r.HasGenerator(newTree.sym) {
		newTree.sources = nil
		return newTree, nil
	}

	if sourcesChanged {
		// Trees produced by a generator never contain nested generator
		// output; re-run the generator only outside such regions.
		selfIsGeneratorChild := false
		current := t
		currentParent := t.parent
		for currentParent != nil {
			if isSourceOf(current, currentParent) {
				break
			}
			if indexByReference(currentParent.children, current) >= 0 && r.IsUseGenerator(currentParent) {
				selfIsGeneratorChild = true
				break
			}
			current = currentParent
			currentParent = currentParent.parent
		}
		if selfIsGeneratorChild {
			newTree.sources = nil
		} else {
			children, err := r.DeriveGeneratorOutput(newTree)
			if err != nil {
				return nil, err
			}
			newTree.SetChildren(children)
		}
	} else if childrenChanged {
		derived, err := r.DeriveSources(newTree)
		if err != nil {
			return nil, err
		}
		newTree.SetSources(derived)
	}
	return newTree, nil
}

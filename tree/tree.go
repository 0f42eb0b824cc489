/*
Package tree implements derivation trees.

A derivation tree is a parse tree: an ordered tree of grammar symbols whose
leaves are terminals (characters, byte sequences or single bits) and whose
inner nodes are nonterminals. The concatenation of the leaves is the
surface of the tree. Trees produced by generator functions additionally
carry source edges: auxiliary links to the subtrees which fed the
generator. Sources are not part of the surface and do not count towards a
tree's size.

Trees are mutable and parent-linked. Mutating a node invalidates the
cached structural hash of the node and of all its ancestors, and keeps the
cached node counts along the ancestor chain up to date. All operations on
a tree (and on the grammar it belongs to) must be serialized by the
caller; see the concurrency notes in package grammar.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2017–2022 Norbert Pillmayer <norbert@pillmayer.com>

*/
package tree

import (
	"fmt"
	"hash/fnv"

	"github.com/npillmayer/gander"
)

// Tree is a node in a derivation tree. The zero value is not usable;
// create nodes with New.
type Tree struct {
	sym       gander.Symbol
	children  []*Tree
	sources   []*Tree
	parent    *Tree
	sender    string
	recipient string
	readOnly  bool
	size      int
	hash      uint64
	hashValid bool
}

// New creates a tree node for a symbol, adopting the given children.
func New(sym gander.Symbol, children ...*Tree) *Tree {
	t := &Tree{sym: sym, size: 1}
	if len(children) > 0 {
		t.SetChildren(children)
	}
	return t
}

// Symbol returns the grammar symbol of this node.
func (t *Tree) Symbol() gander.Symbol { return t.sym }

// SetSymbol replaces the grammar symbol of this node.
func (t *Tree) SetSymbol(sym gander.Symbol) {
	t.sym = sym
	t.invalidateHash()
}

// IsTerminal reports whether this node holds a terminal symbol.
func (t *Tree) IsTerminal() bool { return t.sym.IsTerminal() }

// IsNonTerm reports whether this node holds a nonterminal symbol.
func (t *Tree) IsNonTerm() bool { return t.sym.IsNonTerm() }

// Parent returns the node containing t, or nil for a root.
func (t *Tree) Parent() *Tree { return t.parent }

// Detach severs the parent link, making t a root. The former parent's
// child list is left untouched; callers which want a clean split use
// SplitEnd or the replacement operations instead.
func (t *Tree) Detach() { t.parent = nil }

// Children returns the ordered children. The returned slice is the
// tree's own storage; do not modify it directly.
func (t *Tree) Children() []*Tree { return t.children }

// Child returns the i'th child.
func (t *Tree) Child(i int) *Tree { return t.children[i] }

// NumChildren returns the number of children.
func (t *Tree) NumChildren() int { return len(t.children) }

// Sources returns the generator arguments captured when this subtree was
// materialized by a generator function. Sources never contribute to the
// surface, the size, or the structural hash.
func (t *Tree) Sources() []*Tree { return t.sources }

// Sender returns the protocol party which sent this subtree, or "".
func (t *Tree) Sender() string { return t.sender }

// Recipient returns the protocol party this subtree is addressed to, or "".
func (t *Tree) Recipient() string { return t.recipient }

// ReadOnly reports whether replacement operations must skip this node.
func (t *Tree) ReadOnly() bool { return t.readOnly }

// SetReadOnly marks or unmarks this single node as read-only.
func (t *Tree) SetReadOnly(ro bool) { t.readOnly = ro }

// SetAllReadOnly marks the whole subtree, sources included.
func (t *Tree) SetAllReadOnly(ro bool) {
	t.readOnly = ro
	for _, c := range t.children {
		c.SetAllReadOnly(ro)
	}
	for _, s := range t.sources {
		s.SetAllReadOnly(ro)
	}
}

// SetSender tags the node with a sending party.
func (t *Tree) SetSender(sender string) {
	t.sender = sender
	t.invalidateHash()
}

// SetRecipient tags the node with a receiving party.
func (t *Tree) SetRecipient(recipient string) {
	t.recipient = recipient
	t.invalidateHash()
}

// Size returns the number of nodes in this subtree (node itself plus all
// children, recursively; sources excluded). The count is cached and kept
// up to date on mutation.
func (t *Tree) Size() int { return t.size }

// CountTerminals returns the number of terminal leaves in the subtree.
func (t *Tree) CountTerminals() int {
	if t.sym.IsTerminal() {
		return 1
	}
	n := 0
	for _, c := range t.children {
		n += c.CountTerminals()
	}
	return n
}

// SetChildren replaces the child list. The new children are re-parented
// to t; sizes and hashes along the ancestor chain are updated.
func (t *Tree) SetChildren(children []*Tree) {
	t.children = children
	sz := 1
	for _, c := range t.children {
		sz += c.size
		c.parent = t
	}
	t.updateSize(sz)
	t.invalidateHash()
}

// AddChild appends a child.
func (t *Tree) AddChild(child *Tree) {
	t.children = append(t.children, child)
	child.parent = t
	t.updateSize(t.size + child.size)
	t.invalidateHash()
}

// DropLastChild removes the last child, if any, and returns it detached.
func (t *Tree) DropLastChild() *Tree {
	if len(t.children) == 0 {
		return nil
	}
	last := t.children[len(t.children)-1]
	t.children = t.children[:len(t.children)-1]
	last.parent = nil
	t.updateSize(t.size - last.size)
	t.invalidateHash()
	return last
}

// SetSources attaches generator argument trees. Sources are re-parented
// to t but do not count towards the size.
func (t *Tree) SetSources(sources []*Tree) {
	t.sources = sources
	for _, s := range t.sources {
		s.parent = t
	}
	t.invalidateHash()
}

func (t *Tree) updateSize(newVal int) {
	if t.parent != nil {
		t.parent.updateSize(t.parent.size + newVal - t.size)
	}
	t.size = newVal
}

func (t *Tree) invalidateHash() {
	t.hashValid = false
	if t.parent != nil {
		t.parent.invalidateHash()
	}
}

// Hash returns the structural hash of the subtree, computed over symbol,
// sender, recipient and the child hashes. Sources are excluded. The hash
// is cached and invalidated by any mutation of the node or a descendant.
func (t *Tree) Hash() uint64 {
	if t.hashValid {
		return t.hash
	}
	h := fnv.New64a()
	var buf [8]byte
	put64 := func(v uint64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	put64(t.sym.Hash())
	h.Write([]byte(t.sender))
	h.Write([]byte{0})
	h.Write([]byte(t.recipient))
	h.Write([]byte{0})
	for _, c := range t.children {
		put64(c.Hash())
	}
	t.hash = h.Sum64()
	t.hashValid = true
	return t.hash
}

// Equals reports structural equality, based on the structural hash.
func (t *Tree) Equals(other *Tree) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Hash() == other.Hash()
}

// Deepcopy clones the whole subtree including sources. The copy is a root
// (parent link nil).
func (t *Tree) Deepcopy() *Tree {
	return t.clone(true)
}

func (t *Tree) clone(withSources bool) *Tree {
	cpy := &Tree{
		sym:       t.sym,
		sender:    t.sender,
		recipient: t.recipient,
		readOnly:  t.readOnly,
		size:      1,
	}
	children := make([]*Tree, len(t.children))
	for i, c := range t.children {
		children[i] = c.clone(withSources)
	}
	cpy.SetChildren(children)
	if withSources && len(t.sources) > 0 {
		sources := make([]*Tree, len(t.sources))
		for i, s := range t.sources {
			sources[i] = s.clone(withSources)
		}
		cpy.SetSources(sources)
	}
	return cpy
}

// --- Navigation -------------------------------------------------------------

// GetPath returns the chain of nodes from the root down to t, inclusive.
func (t *Tree) GetPath() []*Tree {
	var path []*Tree
	for cur := t; cur != nil; cur = cur.parent {
		path = append([]*Tree{cur}, path...)
	}
	return path
}

// GetRoot walks the parent chain up to the root. With stopAtSourceBegin,
// the walk stops at a node which is a source of its parent, i.e. it does
// not escape a generator argument.
func (t *Tree) GetRoot(stopAtSourceBegin bool) *Tree {
	root := t
	for root.parent != nil {
		if stopAtSourceBegin && isSourceOf(root, root.parent) {
			break
		}
		root = root.parent
	}
	return root
}

func isSourceOf(t, parent *Tree) bool {
	for _, s := range parent.sources {
		if s == t {
			return true
		}
	}
	return false
}

// Flatten returns the subtree as a pre-order list of nodes.
func (t *Tree) Flatten() []*Tree {
	flat := []*Tree{t}
	for _, c := range t.children {
		flat = append(flat, c.Flatten()...)
	}
	return flat
}

// Descendants returns all nodes of the subtree except t itself.
func (t *Tree) Descendants() []*Tree {
	return t.Flatten()[1:]
}

// FindAllTrees returns every subtree (sources included in the search)
// labeled with the given nonterminal, in bottom-up order.
func (t *Tree) FindAllTrees(sym gander.Symbol) []*Tree {
	var trees []*Tree
	for _, c := range t.children {
		if c.sym.IsNonTerm() {
			trees = append(trees, c.FindAllTrees(sym)...)
		}
	}
	for _, s := range t.sources {
		if s.sym.IsNonTerm() {
			trees = append(trees, s.FindAllTrees(sym)...)
		}
	}
	if t.sym == sym {
		trees = append(trees, t)
	}
	return trees
}

// FindDirectTrees returns the direct children (and sources) labeled with
// the given symbol.
func (t *Tree) FindDirectTrees(sym gander.Symbol) []*Tree {
	var trees []*Tree
	for _, c := range t.children {
		if c.sym == sym {
			trees = append(trees, c)
		}
	}
	for _, s := range t.sources {
		if s.sym == sym {
			trees = append(trees, s)
		}
	}
	return trees
}

// FindAllNodes returns every node of the subtree labeled with the given
// symbol, in pre-order. Read-only nodes are skipped unless includeReadOnly
// is set; the subtrees below them are still searched.
func (t *Tree) FindAllNodes(sym gander.Symbol, includeReadOnly bool) []*Tree {
	var nodes []*Tree
	if t.sym == sym && (includeReadOnly || !t.readOnly) {
		nodes = append(nodes, t)
	}
	for _, c := range t.children {
		nodes = append(nodes, c.FindAllNodes(sym, includeReadOnly)...)
	}
	for _, s := range t.sources {
		nodes = append(nodes, s.FindAllNodes(sym, includeReadOnly)...)
	}
	return nodes
}

// NonTerminalSymbols returns the set of nonterminal symbols occurring in
// the subtree (sources included). Read-only nodes are excluded unless
// includeReadOnly is set.
func (t *Tree) NonTerminalSymbols(includeReadOnly bool) []gander.Symbol {
	seen := map[gander.Symbol]bool{}
	var out []gander.Symbol
	t.collectNonTerminals(includeReadOnly, seen, &out)
	return out
}

func (t *Tree) collectNonTerminals(includeReadOnly bool, seen map[gander.Symbol]bool, out *[]gander.Symbol) {
	if t.sym.IsNonTerm() && (includeReadOnly || !t.readOnly) && !seen[t.sym] {
		seen[t.sym] = true
		*out = append(*out, t.sym)
	}
	for _, c := range t.children {
		c.collectNonTerminals(includeReadOnly, seen, out)
	}
	for _, s := range t.sources {
		s.collectNonTerminals(includeReadOnly, seen, out)
	}
}

// LastByPath descends along a chain of nonterminals, always following the
// rightmost matching child, and returns the node at the end of the chain.
func (t *Tree) LastByPath(path []gander.Symbol) (*Tree, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty tree path")
	}
	if t.sym != path[0] {
		return nil, fmt.Errorf("no such path in tree: %v", path)
	}
	if len(path) == 1 {
		return t, nil
	}
	return t.lastByPath(path[1:])
}

func (t *Tree) lastByPath(path []gander.Symbol) (*Tree, error) {
	for i := len(t.children) - 1; i >= 0; i-- {
		c := t.children[i]
		if c.sym == path[0] {
			if len(path) == 1 {
				return c, nil
			}
			return c.lastByPath(path[1:])
		}
	}
	return nil, fmt.Errorf("no such path in tree: %v", path)
}

// SplitEnd deep-copies the tree up to the root and truncates every
// ancestor's child list right after the copy of t, yielding the
// "everything up to and including t" prefix tree. The copy of t is
// returned.
func (t *Tree) SplitEnd() *Tree {
	root := t.GetRoot(true)
	cpy := root.Deepcopy()
	target := cpy.nodeAtChoicesPath(t.choicesPathBelow(root))
	return target.splitEnd()
}

func (t *Tree) splitEnd() *Tree {
	if t.parent == nil || isSourceOf(t, t.parent) {
		t.parent = nil
		return t
	}
	meIdx := -1
	for i, c := range t.parent.children {
		if c == t {
			meIdx = i
			break
		}
	}
	keep := t.parent.children[:meIdx+1]
	parent := t.parent
	parent.splitEnd()
	parent.SetChildren(keep)
	return t
}

// --- Protocol messages ------------------------------------------------------

// ProtocolMessage marks a subtree as a message belonging to a party of a
// protocol-style grammar.
type ProtocolMessage struct {
	Sender    string
	Recipient string
	Tree      *Tree
}

func (m ProtocolMessage) String() string {
	if m.Recipient != "" {
		return fmt.Sprintf("(%s -> %s): %s", m.Sender, m.Recipient, m.Tree.ToString())
	}
	return fmt.Sprintf("(%s): %s", m.Sender, m.Tree.ToString())
}

// ProtocolMsgs collects the topmost party-tagged subtrees, in surface
// order.
func (t *Tree) ProtocolMsgs() []ProtocolMessage {
	if !t.sym.IsNonTerm() {
		return nil
	}
	if t.sender != "" {
		return []ProtocolMessage{{Sender: t.sender, Recipient: t.recipient, Tree: t}}
	}
	var msgs []ProtocolMessage
	for _, c := range t.children {
		msgs = append(msgs, c.ProtocolMsgs()...)
	}
	return msgs
}

package tree

import (
	"testing"

	"github.com/npillmayer/gander"
)

func digitTree() *Tree {
	// <start> -> <digit> '1', <digit> '2'
	return New(gander.NT("<start>"),
		New(gander.NT("<digit>"), New(gander.Lit("1"))),
		New(gander.NT("<digit>"), New(gander.Lit("2"))),
	)
}

func checkSizes(t *testing.T, node *Tree) {
	sum := 1
	for _, c := range node.Children() {
		checkSizes(t, c)
		sum += c.Size()
	}
	if node.Size() != sum {
		t.Errorf("size of %s is %d, expected %d", node.Symbol(), node.Size(), sum)
	}
}

func TestSizeInvariant(t *testing.T) {
	root := digitTree()
	checkSizes(t, root)
	if root.Size() != 5 {
		t.Errorf("expected size 5, got %d", root.Size())
	}
	root.Child(0).AddChild(New(gander.Lit("x")))
	checkSizes(t, root)
	if root.Size() != 6 {
		t.Errorf("expected size 6 after adding a child, got %d", root.Size())
	}
	root.Child(1).SetChildren([]*Tree{New(gander.Lit("3")), New(gander.Lit("4"))})
	checkSizes(t, root)
}

func TestParentLinks(t *testing.T) {
	root := digitTree()
	for _, c := range root.Children() {
		if c.Parent() != root {
			t.Errorf("child %s has wrong parent", c.Symbol())
		}
		for _, gc := range c.Children() {
			if gc.Parent() != c {
				t.Errorf("grandchild %s has wrong parent", gc.Symbol())
			}
		}
	}
}

func TestHashInvalidation(t *testing.T) {
	root := digitTree()
	h0 := root.Hash()
	child := root.Child(0)
	ch0 := child.Hash()
	child.AddChild(New(gander.Lit("9")))
	if child.Hash() == ch0 {
		t.Errorf("expected child hash to change after AddChild")
	}
	if root.Hash() == h0 {
		t.Errorf("expected root hash to change after child mutation")
	}
	h1 := root.Hash()
	root.Child(1).SetSender("client")
	if root.Hash() == h1 {
		t.Errorf("expected root hash to change after sender mutation")
	}
	h2 := root.Hash()
	root.Child(1).Child(0).SetSymbol(gander.Lit("7"))
	if root.Hash() == h2 {
		t.Errorf("expected root hash to change after symbol mutation")
	}
}

func TestStructuralEquality(t *testing.T) {
	a := digitTree()
	b := digitTree()
	if !a.Equals(b) {
		t.Errorf("expected structurally equal trees to be equal")
	}
	b.Child(1).Child(0).SetSymbol(gander.Lit("3"))
	if a.Equals(b) {
		t.Errorf("expected different trees not to be equal")
	}
}

func TestSourcesExcludedFromHashAndSize(t *testing.T) {
	a := digitTree()
	b := digitTree()
	src := New(gander.NT("<x>"), New(gander.Lit("42")))
	b.SetSources([]*Tree{src})
	if b.Size() != a.Size() {
		t.Errorf("sources must not contribute to size: %d vs %d", b.Size(), a.Size())
	}
	if !a.Equals(b) {
		t.Errorf("sources must not contribute to structural hash")
	}
	if src.Parent() != b {
		t.Errorf("source parent should point at the owning tree")
	}
}

func TestFindAll(t *testing.T) {
	root := digitTree()
	digits := root.FindAllNodes(gander.NT("<digit>"), false)
	if len(digits) != 2 {
		t.Errorf("expected 2 digit nodes, got %d", len(digits))
	}
	trees := root.FindAllTrees(gander.NT("<digit>"))
	if len(trees) != 2 {
		t.Errorf("expected 2 digit trees, got %d", len(trees))
	}
	syms := root.NonTerminalSymbols(false)
	if len(syms) != 2 {
		t.Errorf("expected 2 distinct nonterminals, got %v", syms)
	}
}

func TestFindAllSkipsReadOnly(t *testing.T) {
	root := digitTree()
	root.Child(0).SetReadOnly(true)
	digits := root.FindAllNodes(gander.NT("<digit>"), false)
	if len(digits) != 1 {
		t.Errorf("expected read-only node to be skipped, got %d nodes", len(digits))
	}
	all := root.FindAllNodes(gander.NT("<digit>"), true)
	if len(all) != 2 {
		t.Errorf("expected includeReadOnly to report both, got %d", len(all))
	}
}

func TestDeepcopy(t *testing.T) {
	root := digitTree()
	root.SetSources([]*Tree{New(gander.NT("<x>"), New(gander.Lit("5")))})
	cpy := root.Deepcopy()
	if !cpy.Equals(root) {
		t.Errorf("copy should be structurally equal to the original")
	}
	if cpy.Parent() != nil {
		t.Errorf("copy should be a root")
	}
	if len(cpy.Sources()) != 1 {
		t.Errorf("copy should include sources")
	}
	cpy.Child(0).Child(0).SetSymbol(gander.Lit("8"))
	if cpy.Equals(root) {
		t.Errorf("mutating the copy must not affect the original")
	}
	if root.Child(0).Child(0).Symbol() != gander.Lit("1") {
		t.Errorf("original tree was mutated through the copy")
	}
}

func TestGetPathAndRoot(t *testing.T) {
	root := digitTree()
	leaf := root.Child(1).Child(0)
	path := leaf.GetPath()
	if len(path) != 3 || path[0] != root || path[2] != leaf {
		t.Errorf("unexpected path %v", path)
	}
	if leaf.GetRoot(false) != root {
		t.Errorf("expected GetRoot to find the root")
	}
}

func TestProtocolMsgs(t *testing.T) {
	root := New(gander.NT("<session>"),
		New(gander.NT("<ping>"), New(gander.Lit("ping"))),
		New(gander.NT("<pong>"), New(gander.Lit("pong"))),
	)
	root.Child(0).SetSender("client")
	root.Child(0).SetRecipient("server")
	root.Child(1).SetSender("server")
	msgs := root.ProtocolMsgs()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 protocol messages, got %d", len(msgs))
	}
	if msgs[0].Sender != "client" || msgs[0].Recipient != "server" {
		t.Errorf("unexpected first message %v", msgs[0])
	}
	if msgs[1].Sender != "server" {
		t.Errorf("unexpected second message %v", msgs[1])
	}
}

func TestChoicesPath(t *testing.T) {
	root := digitTree()
	leaf := root.Child(1).Child(0)
	path, err := leaf.ChoicesPath()
	if err != nil {
		t.Fatalf("choices path failed: %v", err)
	}
	if encodeSteps(path) != "c1.c0" {
		t.Errorf("unexpected choices path %q", encodeSteps(path))
	}
	if root.nodeAtChoicesPath(path) != leaf {
		t.Errorf("choices path does not lead back to the node")
	}
}

func TestFlatten(t *testing.T) {
	root := digitTree()
	flat := root.Flatten()
	if len(flat) != 5 {
		t.Errorf("expected 5 nodes, got %d", len(flat))
	}
	if len(root.Descendants()) != 4 {
		t.Errorf("expected 4 descendants")
	}
	if root.CountTerminals() != 2 {
		t.Errorf("expected 2 terminals, got %d", root.CountTerminals())
	}
}

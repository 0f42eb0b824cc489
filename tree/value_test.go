package tree

import (
	"bytes"
	"strings"
	"testing"

	"github.com/npillmayer/gander"
)

func TestToStringAndBytes(t *testing.T) {
	root := New(gander.NT("<start>"),
		New(gander.Lit("ab")),
		New(gander.ByteLit([]byte{0x63})),
	)
	if s := root.ToString(); s != "abc" {
		t.Errorf("expected 'abc', got %q", s)
	}
	if b := root.ToBytes(); !bytes.Equal(b, []byte("abc")) {
		t.Errorf("expected bytes 'abc', got %v", b)
	}
}

func bitRun(bits ...int) *Tree {
	root := New(gander.NT("<start>"))
	for _, b := range bits {
		root.AddChild(New(gander.Bit(b)))
	}
	return root
}

func TestBitsToBytes(t *testing.T) {
	// 0xAB = 10101011
	root := bitRun(1, 0, 1, 0, 1, 0, 1, 1)
	if !root.ContainsBits() {
		t.Fatalf("expected tree to contain bits")
	}
	if s := root.ToBits(); s != "10101011" {
		t.Errorf("expected bit string 10101011, got %q", s)
	}
	if b := root.ToBytes(); !bytes.Equal(b, []byte{0xAB}) {
		t.Errorf("expected 0xAB, got %v", b)
	}
}

func TestMixedBytesToBits(t *testing.T) {
	root := New(gander.NT("<start>"), New(gander.Lit("A")))
	if s := root.ToBits(); s != "01000001" {
		t.Errorf("expected bits of 'A', got %q", s)
	}
}

func TestValueAggregation(t *testing.T) {
	bits := bitRun(0, 0, 0, 0, 0, 1, 1, 0) // 0x06
	v := bits.Value()
	if n, ok := v.(int); !ok || n != 6 {
		t.Errorf("expected bit run to aggregate to int 6, got %v", v)
	}
	str := New(gander.NT("<s>"), New(gander.Lit("a")), New(gander.Lit("b")))
	if v := str.Value(); v != "ab" {
		t.Errorf("expected string aggregate 'ab', got %v", v)
	}
	mixed := New(gander.NT("<m>"),
		New(gander.ByteLit([]byte{0x01})),
		New(gander.Lit("a")),
	)
	if v, ok := mixed.Value().([]byte); !ok || !bytes.Equal(v, []byte{0x01, 'a'}) {
		t.Errorf("expected byte aggregate, got %v", mixed.Value())
	}
}

func TestToInt(t *testing.T) {
	root := New(gander.NT("<n>"), New(gander.Lit("42")))
	if n, ok := root.ToInt(); !ok || n != 42 {
		t.Errorf("expected 42, got %d (%v)", n, ok)
	}
	bad := New(gander.NT("<n>"), New(gander.Lit("x")))
	if _, ok := bad.ToInt(); ok {
		t.Errorf("expected conversion failure")
	}
}

func TestToTreeAndToGrammar(t *testing.T) {
	root := New(gander.NT("<start>"),
		New(gander.NT("<digit>"), New(gander.Lit("1"))),
	)
	pretty := root.ToTree()
	if !strings.Contains(pretty, "<start>") || !strings.Contains(pretty, "\"1\"") {
		t.Errorf("unexpected pretty form:\n%s", pretty)
	}
	dump := root.ToGrammar(true, true)
	if !strings.Contains(dump, "<start> ::= <digit>") {
		t.Errorf("unexpected grammar dump:\n%s", dump)
	}
	if !strings.Contains(dump, "# Position") {
		t.Errorf("expected position annotations in:\n%s", dump)
	}
}

func TestFromPairs(t *testing.T) {
	p := Pair{Symbol: "<start>", Children: []Pair{
		{Symbol: "<digit>", Children: []Pair{{Symbol: "7"}}},
	}}
	root := FromPairs(p)
	if root.Symbol() != gander.NT("<start>") {
		t.Errorf("unexpected root symbol %s", root.Symbol())
	}
	if root.ToString() != "7" {
		t.Errorf("expected surface '7', got %q", root.ToString())
	}
}

func TestSplitEnd(t *testing.T) {
	root := New(gander.NT("<start>"),
		New(gander.NT("<a>"), New(gander.Lit("x"))),
		New(gander.NT("<b>"), New(gander.Lit("y"))),
	)
	first := root.Child(0)
	cut := first.SplitEnd()
	if cut.GetRoot(false).ToString() != "x" {
		t.Errorf("expected prefix tree surface 'x', got %q", cut.GetRoot(false).ToString())
	}
	// the original tree is untouched
	if root.ToString() != "xy" {
		t.Errorf("original tree was mutated by SplitEnd")
	}
}

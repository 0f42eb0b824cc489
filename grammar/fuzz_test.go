package grammar

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
)

func TestFuzzDigits(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	rnd := rand.New(rand.NewSource(1))
	result, err := g.Fuzz(rnd, gander.NT("<start>"), 50)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	surface := result.ToBytes()
	if len(surface) == 0 {
		t.Fatalf("expected a non-empty string of digits")
	}
	for _, by := range surface {
		if by < '0' || by > '9' {
			t.Errorf("expected digits only, got %q", surface)
		}
	}
	if result.Size() > 50 {
		t.Errorf("fuzzed tree exceeds the node budget: size %d", result.Size())
	}
	// round trip: the surface must parse back under <start>
	parsed, err := g.Parse(surface, gander.NT("<start>"))
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if !bytes.Equal(parsed.ToBytes(), surface) {
		t.Errorf("round trip changed the surface: %q vs %q", parsed.ToBytes(), surface)
	}
}

func TestFuzzDeterministicRepetition(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeAAAGrammar(t)
	rnd := rand.New(rand.NewSource(7))
	result, err := g.Fuzz(rnd, gander.NT("<start>"), 100)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	if !bytes.Equal(result.ToBytes(), []byte("aaa")) {
		t.Errorf("expected 'aaa', got %q", result.ToBytes())
	}
}

func TestFuzzDeterminism(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	one, err := g.Fuzz(rand.New(rand.NewSource(42)), gander.NT("<start>"), 50)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	two, err := g.Fuzz(rand.New(rand.NewSource(42)), gander.NT("<start>"), 50)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	if !one.Equals(two) {
		t.Errorf("expected identical trees for identical seeds")
	}
	if !bytes.Equal(one.ToBytes(), two.ToBytes()) {
		t.Errorf("expected identical surfaces for identical seeds: %q vs %q", one.ToBytes(), two.ToBytes())
	}
	other, err := g.Fuzz(rand.New(rand.NewSource(43)), gander.NT("<start>"), 50)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	_ = other // different seeds may (rarely) coincide; no assertion
}

func TestFuzzDataDependentRepetition(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeFrameGrammar(t)
	rnd := rand.New(rand.NewSource(3))
	result, err := g.Fuzz(rnd, gander.NT("<start>"), 80)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	surface := result.ToBytes()
	if len(surface) == 0 {
		t.Fatalf("expected a non-empty frame")
	}
	if int(surface[0]) != len(surface)-1 {
		t.Errorf("length byte %d does not match payload length %d", surface[0], len(surface)-1)
	}
	parsed, err := g.Parse(surface, gander.NT("<start>"))
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if !bytes.Equal(parsed.ToBytes(), surface) {
		t.Errorf("round trip changed the surface")
	}
}

func TestFuzzRegexTerminal(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("hex")
	b.LHS("<start>").Pattern("0x[0-9a-f]{2}").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	rnd := rand.New(rand.NewSource(5))
	result, err := g.Fuzz(rnd, gander.NT("<start>"), 50)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	surface := result.ToBytes()
	if ok, l := gander.Pattern("0x[0-9a-f]{2}").Check(surface, false); !ok || l != len(surface) {
		t.Errorf("sampled surface %q does not match the pattern", surface)
	}
	if _, err := g.Parse(surface, gander.NT("<start>")); err != nil {
		t.Errorf("sampled surface %q does not parse back: %v", surface, err)
	}
}

func TestFuzzGenerator(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	// <x> ::= <xdigit>{2} ; <y> ::= <digit>{2} := double(<x>)
	b := NewGrammarBuilder("gen")
	b.LHS("<x>").Times(b.N("<xdigit>"), 2).End()
	b.LHS("<y>").Times(b.N("<digit>"), 2).End()
	b.LHS("<digit>").CharSet("0123456789").End()
	b.LHS("<xdigit>").CharSet("01234").End()
	gen := &Generator{
		Name: "double(<x>)",
		Call: func(env *Env, args map[string]*tree.Tree) (interface{}, error) {
			n, ok := args["x"].ToInt()
			if !ok {
				return nil, fmt.Errorf("<x> is not a number")
			}
			return fmt.Sprintf("%02d", n*2), nil
		},
		Params: map[string]gander.Symbol{"x": gander.NT("<x>")},
	}
	g, err := b.Grammar(WithGenerator(gander.NT("<y>"), gen))
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	rnd := rand.New(rand.NewSource(11))
	result, err := g.Fuzz(rnd, gander.NT("<y>"), 50)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	if len(result.Sources()) != 1 {
		t.Fatalf("expected one source tree, got %d", len(result.Sources()))
	}
	xSurface := result.Sources()[0].ToBytes()
	xVal, ok := result.Sources()[0].ToInt()
	if !ok {
		t.Fatalf("source surface %q is not a number", xSurface)
	}
	want := fmt.Sprintf("%02d", xVal*2)
	if string(result.ToBytes()) != want {
		t.Errorf("expected surface %q, got %q", want, result.ToBytes())
	}
	for _, c := range result.Children() {
		if !c.ReadOnly() {
			t.Errorf("generator output children must be read-only")
		}
	}
}

func TestSubtreeReplace(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	// <start> ::= <a> <b> ; <a> ::= "x" | "y" ; <b> ::= "z"
	b := NewGrammarBuilder("ab")
	b.LHS("<start>").N("<a>").N("<b>").End()
	b.LHS("<a>").T("x").End()
	b.LHS("<a>").T("y").End()
	b.LHS("<b>").T("z").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	parsed, err := g.Parse("xz", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	newA, err := g.Fuzz(rand.New(rand.NewSource(2)), gander.NT("<a>"), 50)
	if err != nil {
		t.Fatalf("fuzz failed: %v", err)
	}
	replaced, err := parsed.Replace(g, parsed.Child(0), newA)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	want := append(append([]byte(nil), newA.ToBytes()...), 'z')
	if !bytes.Equal(replaced.ToBytes(), want) {
		t.Errorf("expected surface %q, got %q", want, replaced.ToBytes())
	}
	if !replaced.Child(1).Equals(parsed.Child(1)) {
		t.Errorf("the <b> subtree must be structurally unchanged")
	}
}

func TestReplaceSkipsReadOnly(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("ab")
	b.LHS("<start>").N("<a>").N("<b>").End()
	b.LHS("<a>").T("x").End()
	b.LHS("<b>").T("z").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	parsed, err := g.Parse("xz", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	parsed.Child(0).SetReadOnly(true)
	replacement := tree.New(gander.NT("<a>"), tree.New(gander.Lit("q")))
	replaced, err := parsed.Replace(g, parsed.Child(0), replacement)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if string(replaced.ToBytes()) != "xz" {
		t.Errorf("replacing a read-only subtree must be a no-op, got %q", replaced.ToBytes())
	}
}

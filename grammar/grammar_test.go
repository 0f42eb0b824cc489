package grammar

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
)

// --- Test grammars ----------------------------------------------------------

// <start> ::= <digit>+ ; <digit> ::= [0-9]
func makeDigitsGrammar(t *testing.T) *Grammar {
	b := NewGrammarBuilder("digits")
	b.LHS("<start>").Plus(b.N("<digit>")).End()
	b.LHS("<digit>").CharSet("0123456789").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	return g
}

// <start> ::= "a"{3}
func makeAAAGrammar(t *testing.T) *Grammar {
	b := NewGrammarBuilder("aaa")
	b.LHS("<start>").Times(b.T("a"), 3).End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	return g
}

// <start> ::= <n> <body> ; <body> ::= <byte>{int(<n>)}
func makeFrameGrammar(t *testing.T) *Grammar {
	b := NewGrammarBuilder("frame")
	bound := QueryBound("int(<n>)", "n", NewQuery(gander.NT("<n>")),
		func(env *Env, vars map[string]*tree.Tree) (int, error) {
			n := vars["n"]
			if n == nil {
				return 0, fmt.Errorf("<n> not bound")
			}
			payload := n.ToBytes()
			if len(payload) != 1 {
				return 0, fmt.Errorf("<n> must be a single byte")
			}
			return int(payload[0]), nil
		})
	b.LHS("<start>").N("<n>").N("<body>").End()
	b.LHS("<n>").Node(b.BytePattern(`[\x00-\x08]`)).End()
	b.LHS("<body>").RepeatBounds(b.N("<byte>"), bound, bound).End()
	b.LHS("<byte>").Node(b.BytePattern(`[\x00-\xff]`)).End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	return g
}

// <start> ::= <bit>{16} ; <bit> ::= 0 | 1
func makeBitsGrammar(t *testing.T) *Grammar {
	b := NewGrammarBuilder("flags16")
	b.LHS("<start>").Times(b.N("<bit>"), 16).End()
	b.LHS("<bit>").Bit(0).End()
	b.LHS("<bit>").Bit(1).End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	return g
}

// --- Tests ------------------------------------------------------------------

func TestPrimeFiniteness(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	for _, sym := range g.Symbols() {
		rule, _ := g.Rule(sym)
		var check func(n Node)
		check = func(n Node) {
			if n.Distance() == inf {
				t.Errorf("node %s of rule %s has infinite distance after priming", n, sym.Name())
			}
			for _, c := range n.IRChildren() {
				check(c)
			}
		}
		check(rule)
	}
}

func TestPrimeRejectsNonTerminating(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("loop")
	b.LHS("<start>").N("<start>").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	err = g.Prime()
	if err == nil {
		t.Fatalf("expected priming to reject a non-terminating grammar")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected a ValidationError, got %T", err)
	}
}

func TestPrimeRejectsUndefinedNonterminal(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("undef")
	b.LHS("<start>").N("<digits>").End()
	b.LHS("<digit>").CharSet("0123456789").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	err = g.Prime()
	if err == nil {
		t.Fatalf("expected priming to reject an undefined nonterminal")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected a ValidationError, got %T", err)
	}
	if want := "Did you mean <digit>"; !strings.Contains(verr.Error(), want) {
		t.Errorf("expected suggestion %q in error %q", want, verr.Error())
	}
}

func TestGrammarUpdate(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b1 := NewGrammarBuilder("g1")
	b1.LHS("<start>").T("a").End()
	gen := &Generator{
		Name:   "f()",
		Call:   func(env *Env, args map[string]*tree.Tree) (interface{}, error) { return "a", nil },
		Params: map[string]gander.Symbol{},
	}
	g1, err := b1.Grammar(WithGenerator(gander.NT("<start>"), gen))
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if !g1.HasGenerator(gander.NT("<start>")) {
		t.Fatalf("generator not attached")
	}
	b2 := NewGrammarBuilder("g2")
	b2.LHS("<start>").T("b").End()
	g2, err := b2.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g1.Update(g2, true); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if g1.HasGenerator(gander.NT("<start>")) {
		t.Errorf("expected the update to remove the generator")
	}
	if _, err := g1.Parse("b", gander.NT("<start>")); err != nil {
		t.Errorf("expected updated grammar to accept 'b': %v", err)
	}
	if _, err := g1.Parse("a", gander.NT("<start>")); err == nil {
		t.Errorf("expected updated grammar to reject 'a'")
	}
}

func TestMsgParties(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("proto")
	b.LHS("<start>").Party("<ping>", "client", "server").Party("<pong>", "server", "client").End()
	b.LHS("<ping>").T("ping").End()
	b.LHS("<pong>").T("pong").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	parties := g.MsgParties(true)
	sort.Strings(parties)
	if diff := cmp.Diff([]string{"client", "server"}, parties); diff != "" {
		t.Errorf("unexpected parties (-want +got):\n%s", diff)
	}
	senders := g.MsgParties(false)
	sort.Strings(senders)
	if diff := cmp.Diff([]string{"client", "server"}, senders); diff != "" {
		// both parties send in this grammar
		t.Errorf("unexpected senders (-want +got):\n%s", diff)
	}
}

func TestCheckNoNestedParties(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	good := NewGrammarBuilder("ok")
	good.LHS("<start>").Party("<ping>", "client", "server").End()
	good.LHS("<ping>").T("ping").End()
	g, err := good.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.CheckNoNestedParties(gander.NT("<start>")); err != nil {
		t.Errorf("expected flat parties to validate: %v", err)
	}
	bad := NewGrammarBuilder("nested")
	bad.LHS("<start>").Party("<outer>", "client", "server").End()
	bad.LHS("<outer>").Party("<inner>", "server", "client").End()
	bad.LHS("<inner>").T("x").End()
	gb, err := bad.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := gb.CheckNoNestedParties(gander.NT("<start>")); err == nil {
		t.Errorf("expected nested party definitions to be rejected")
	}
}

func TestContainsKinds(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	bits := makeBitsGrammar(t)
	if ok, _ := bits.ContainsBits(gander.NT("<start>")); !ok {
		t.Errorf("expected bit grammar to contain bits")
	}
	digits := makeDigitsGrammar(t)
	if ok, _ := digits.ContainsBits(gander.NT("<start>")); ok {
		t.Errorf("expected digit grammar not to contain bits")
	}
	if ok, _ := digits.ContainsStrings(gander.NT("<start>")); !ok {
		t.Errorf("expected digit grammar to contain strings")
	}
}

func TestEnvIsolation(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("env")
	b.LHS("<start>").T("a").End()
	gen := &Generator{
		Name: "leak()",
		Call: func(env *Env, args map[string]*tree.Tree) (interface{}, error) {
			env.SetLocal("leak", 1)
			return "a", nil
		},
		Params: map[string]gander.Symbol{},
	}
	g, err := b.Grammar(WithGenerator(gander.NT("<start>"), gen))
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	if _, err := g.Generate(gander.NT("<start>"), nil); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, ok := g.Env().Lookup("leak"); ok {
		t.Errorf("generator-local writes must not leak into the grammar environment")
	}
}

func TestBuilderAlternatives(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("alts")
	b.LHS("<start>").T("x").End()
	b.LHS("<start>").T("y").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	for _, input := range []string{"x", "y"} {
		if _, err := g.Parse(input, gander.NT("<start>")); err != nil {
			t.Errorf("expected %q to be accepted: %v", input, err)
		}
	}
	if _, err := g.Parse("z", gander.NT("<start>")); err == nil {
		t.Errorf("expected 'z' to be rejected")
	}
}

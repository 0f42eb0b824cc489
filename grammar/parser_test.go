package grammar

import (
	"bytes"
	"strings"
	"testing"

	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
)

func TestParseDeterministicRepetition(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeAAAGrammar(t)
	if _, err := g.Parse([]byte("aa"), gander.NT("<start>")); err == nil {
		t.Errorf("expected 'aa' to be rejected")
	}
	parsed, err := g.Parse([]byte("aaa"), gander.NT("<start>"))
	if err != nil {
		t.Fatalf("expected 'aaa' to be accepted: %v", err)
	}
	if !bytes.Equal(parsed.ToBytes(), []byte("aaa")) {
		t.Errorf("expected surface 'aaa', got %q", parsed.ToBytes())
	}
	if _, err := g.Parse([]byte("aaaa"), gander.NT("<start>")); err == nil {
		t.Errorf("expected 'aaaa' to be rejected")
	}
}

func TestParseDataDependentRepetition(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeFrameGrammar(t)
	parsed, err := g.Parse([]byte{0x03, 0x41, 0x42, 0x43}, gander.NT("<start>"))
	if err != nil {
		t.Fatalf("expected the frame to parse: %v", err)
	}
	var body *tree.Tree
	for _, c := range parsed.Children() {
		if c.Symbol() == gander.NT("<body>") {
			body = c
		}
	}
	if body == nil {
		t.Fatalf("no <body> subtree in parse result")
	}
	if body.NumChildren() != 3 {
		t.Errorf("expected <body> to have exactly 3 children, got %d", body.NumChildren())
	}
	if _, err := g.Parse([]byte{0x02, 0x41, 0x42, 0x43}, gander.NT("<start>")); err == nil {
		t.Errorf("expected a wrong length byte to fail the parse")
	}
}

func TestParseBitGrammar(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeBitsGrammar(t)
	parsed, err := g.Parse([]byte{0xAB, 0xCD}, gander.NT("<start>"))
	if err != nil {
		t.Fatalf("expected the bit input to parse: %v", err)
	}
	if !bytes.Equal(parsed.ToBytes(), []byte{0xAB, 0xCD}) {
		t.Errorf("expected surface AB CD, got %x", parsed.ToBytes())
	}
	if bits := parsed.ToBits(); !strings.HasPrefix(bits, "10101011") {
		t.Errorf("expected bit string to start with 10101011, got %q", bits)
	}
}

func TestParseDeterminism(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	one, err := g.Parse("1234", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	two, err := g.Parse("1234", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !one.Equals(two) {
		t.Errorf("expected identical trees for identical parse runs")
	}
	// mutating a returned tree must not corrupt the cache
	one.SetChildren(nil)
	three, err := g.Parse("1234", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !three.Equals(two) {
		t.Errorf("cache returned a corrupted tree")
	}
}

func TestCollapseIdempotence(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	parsed, err := g.Parse("42", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	once := g.Collapse(parsed)
	twice := g.Collapse(once)
	if !once.Equals(twice) {
		t.Errorf("collapse is not idempotent")
	}
	if !bytes.Equal(once.ToBytes(), parsed.ToBytes()) {
		t.Errorf("collapse changed the surface")
	}
}

func TestParseKeepsControlFlow(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	parsed, err := g.Parse("42", gander.NT("<start>"), KeepControlFlow())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	foundSynthetic := false
	for _, n := range parsed.Flatten() {
		if isIntermediate(n.Symbol()) {
			foundSynthetic = true
		}
	}
	if !foundSynthetic {
		t.Errorf("expected synthetic nonterminals with KeepControlFlow")
	}
	collapsed := g.Collapse(parsed)
	for _, n := range collapsed.Flatten() {
		if isIntermediate(n.Symbol()) {
			t.Errorf("collapse left synthetic node %s", n.Symbol())
		}
	}
}

func TestParseIncomplete(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeAAAGrammar(t)
	forest, err := g.ParseForest([]byte("aa"), gander.NT("<start>"), WithMode(Incomplete))
	if err != nil {
		t.Fatalf("incomplete parse failed: %v", err)
	}
	partial := forest.Next()
	if partial == nil {
		t.Fatalf("expected a partial derivation for 'aa'")
	}
	if !bytes.Equal(partial.ToBytes(), []byte("aa")) {
		t.Errorf("expected partial surface 'aa', got %q", partial.ToBytes())
	}
}

func TestParseIncompleteRegex(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	b := NewGrammarBuilder("year")
	b.LHS("<start>").Pattern("[0-9]{4}").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	if _, err := g.Parse("20", gander.NT("<start>")); err == nil {
		t.Errorf("expected '20' to fail in complete mode")
	}
	forest, err := g.ParseForest("20", gander.NT("<start>"), WithMode(Incomplete))
	if err != nil {
		t.Fatalf("incomplete parse failed: %v", err)
	}
	if forest.Next() == nil {
		t.Errorf("expected a partial derivation for '20'")
	}
}

func TestParseErrorReporting(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	_, err := g.Parse("12a4", gander.NT("<start>"))
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	perr, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected a ParseError, got %T", err)
	}
	if perr.MaxPosition != 2 {
		t.Errorf("expected max position 2, got %d", perr.MaxPosition)
	}
	if len(perr.Offending) == 0 {
		t.Errorf("expected an offending input slice")
	}
}

func TestParseUnknownStartSuggestion(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	_, err := g.Parse("1", gander.NT("<digits>"))
	if err == nil {
		t.Fatalf("expected an error for an unknown start symbol")
	}
	perr, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected a ParseError, got %T", err)
	}
	if perr.Suggestion != "<digit>" {
		t.Errorf("expected suggestion <digit>, got %q", perr.Suggestion)
	}
}

func TestParseLongRepetition(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	// The right-recursion shortcut keeps this linear; without it the chart
	// blows up quadratically.
	b := NewGrammarBuilder("sevens")
	b.LHS("<start>").Plus(b.N("<seven>")).End()
	b.LHS("<seven>").T("7").End()
	g, err := b.Grammar()
	if err != nil {
		t.Fatalf("cannot build grammar: %v", err)
	}
	if err := g.Prime(); err != nil {
		t.Fatalf("cannot prime grammar: %v", err)
	}
	input := strings.Repeat("7", 10000)
	parsed, err := g.Parse(input, gander.NT("<start>"))
	if err != nil {
		t.Fatalf("long repetition failed to parse: %v", err)
	}
	if parsed.NumChildren() != 10000 {
		t.Errorf("expected 10000 children, got %d", parsed.NumChildren())
	}
	if string(parsed.ToBytes()) != input {
		t.Errorf("round trip changed the surface")
	}
}

func TestParseForestDeepcopies(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "gander.grammar")
	defer teardown()
	//
	g := makeDigitsGrammar(t)
	f1, err := g.ParseForest("9", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	f2, err := g.ParseForest("9", gander.NT("<start>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	t1, t2 := f1.Next(), f2.Next()
	if t1 == nil || t2 == nil {
		t.Fatalf("expected parse trees")
	}
	if t1 == t2 {
		t.Errorf("forest results must not share nodes")
	}
	if !t1.Equals(t2) {
		t.Errorf("forest results must be structurally equal")
	}
}

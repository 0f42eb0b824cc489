package main

import (
	"fmt"
	"sort"

	"github.com/npillmayer/gander/grammar"
	"github.com/npillmayer/gander/tree"
)

// The CLI ships a handful of built-in sample grammars, assembled with the
// grammar builder. They stand in for a textual grammar front-end and
// cover the interesting engine features: plain recursion, deterministic
// repetition, length-prefixed binary framing (data-dependent bounds), and
// bit-level terminals.

func digitsGrammar() (*grammar.Grammar, error) {
	b := grammar.NewGrammarBuilder("digits")
	b.LHS("<start>").Plus(b.N("<digit>")).End()
	b.LHS("<digit>").CharSet("0123456789").End()
	return b.Grammar()
}

func aaaGrammar() (*grammar.Grammar, error) {
	b := grammar.NewGrammarBuilder("aaa")
	b.LHS("<start>").Times(b.T("a"), 3).End()
	return b.Grammar()
}

// frameGrammar is a length-prefixed binary frame: one length byte,
// followed by exactly that many payload bytes.
func frameGrammar() (*grammar.Grammar, error) {
	b := grammar.NewGrammarBuilder("frame")
	lenBound := grammar.QueryBound("int(<len>)", "n",
		grammar.NewQuery(nt("<len>")),
		func(env *grammar.Env, vars map[string]*tree.Tree) (int, error) {
			n := vars["n"]
			if n == nil {
				return 0, fmt.Errorf("<len> not bound")
			}
			payload := n.ToBytes()
			if len(payload) != 1 {
				return 0, fmt.Errorf("<len> must be one byte")
			}
			return int(payload[0]), nil
		})
	b.LHS("<start>").N("<len>").N("<body>").End()
	b.LHS("<len>").Node(b.BytePattern(`[\x00-\x08]`)).End()
	b.LHS("<body>").RepeatBounds(b.N("<byte>"), lenBound, lenBound).End()
	b.LHS("<byte>").Node(b.BytePattern(`[\x00-\xff]`)).End()
	return b.Grammar()
}

// flagsGrammar is a 16-bit flag word, bit by bit.
func flagsGrammar() (*grammar.Grammar, error) {
	b := grammar.NewGrammarBuilder("flags16")
	b.LHS("<start>").Times(b.N("<bit>"), 16).End()
	b.LHS("<bit>").Bit(0).End()
	b.LHS("<bit>").Bit(1).End()
	return b.Grammar()
}

var sampleGrammars = map[string]func() (*grammar.Grammar, error){
	"digits":  digitsGrammar,
	"aaa":     aaaGrammar,
	"frame":   frameGrammar,
	"flags16": flagsGrammar,
}

func grammarByName(name string) (*grammar.Grammar, error) {
	build, ok := sampleGrammars[name]
	if !ok {
		names := make([]string, 0, len(sampleGrammars))
		for n := range sampleGrammars {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown grammar %q (available: %v)", name, names)
	}
	g, err := build()
	if err != nil {
		return nil, err
	}
	if err := g.Prime(); err != nil {
		return nil, err
	}
	return g, nil
}

package main

import (
	"io"
	"math/rand"
	"strings"

	"github.com/chzyer/readline"
	"github.com/npillmayer/gander/grammar"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// The REPL parses every entered line against the selected grammar and
// prints the resulting derivation tree. A handful of colon-commands
// control the session:
//
//	:fuzz         sample one input from the grammar
//	:grammar      dump the grammar rules
//	:quit         leave the REPL

func runRepl(cmd *cobra.Command, args []string) error {
	g, err := grammarByName(flagGrammar)
	if err != nil {
		return err
	}
	rnd := rand.New(rand.NewSource(flagSeed))
	repl, err := readline.New("gander> ")
	if err != nil {
		return err
	}
	defer repl.Close()
	pterm.Info.Printf("Grammar %q, start symbol %s\n", flagGrammar, flagStart)
	pterm.Info.Println("Enter an input to parse it; quit with :quit or <ctrl>D")
	for {
		line, err := repl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return nil
		case line == ":grammar":
			pterm.Println(g.String())
		case line == ":fuzz":
			replFuzz(g, rnd)
		default:
			replParse(g, line)
		}
	}
}

func replFuzz(g *grammar.Grammar, rnd *rand.Rand) {
	t, err := g.Fuzz(rnd, nt(flagStart), flagMaxNodes)
	if err != nil {
		pterm.Error.Println(err.Error())
		return
	}
	pterm.Success.Printf("%q\n", t.ToBytes())
}

func replParse(g *grammar.Grammar, line string) {
	input, err := decodeInput(line)
	if err != nil {
		pterm.Error.Println(err.Error())
		return
	}
	t, err := g.Parse(input, nt(flagStart))
	if err != nil {
		pterm.Error.Println(err.Error())
		return
	}
	pterm.Success.Println("accepted")
	pterm.Println(t.ToTree())
}

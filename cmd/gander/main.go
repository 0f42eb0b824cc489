package main

/*
License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2017–2022 Norbert Pillmayer <norbert@pillmayer.com>

*/

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"

	"github.com/npillmayer/gander"
	"github.com/npillmayer/schuko/tracing"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// tracer traces with key 'gander.grammar'.
func tracer() tracing.Trace {
	return tracing.Select("gander.grammar")
}

func nt(name string) gander.Symbol { return gander.NT(name) }

var (
	flagGrammar  string
	flagStart    string
	flagSeed     int64
	flagMaxNodes int
	flagCount    int
	flagHex      bool
	flagTrace    string
)

func main() {
	root := &cobra.Command{
		Use:   "gander",
		Short: "Fuzz and re-parse structured inputs from built-in sample grammars",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			tracer().SetTraceLevel(traceLevel(flagTrace))
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagGrammar, "grammar", "g", "digits", "Sample grammar to use")
	root.PersistentFlags().StringVarP(&flagStart, "start", "s", "<start>", "Start symbol")
	root.PersistentFlags().StringVar(&flagTrace, "trace", "Error", "Trace level [Debug|Info|Error]")

	fuzzCmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Generate random inputs from a grammar",
		RunE:  runFuzz,
	}
	fuzzCmd.Flags().Int64Var(&flagSeed, "seed", 1, "PRNG seed")
	fuzzCmd.Flags().IntVar(&flagMaxNodes, "max-nodes", 50, "Node budget per tree")
	fuzzCmd.Flags().IntVarP(&flagCount, "count", "n", 1, "Number of inputs to generate")

	parseCmd := &cobra.Command{
		Use:   "parse <input>",
		Short: "Parse an input against a grammar and dump the derivation tree",
		Args:  cobra.ExactArgs(1),
		RunE:  runParse,
	}
	parseCmd.Flags().BoolVar(&flagHex, "hex", false, "Input is hex-encoded bytes")

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactively parse inputs and sample from the grammar",
		RunE:  runRepl,
	}
	replCmd.Flags().Int64Var(&flagSeed, "seed", 1, "PRNG seed")
	replCmd.Flags().IntVar(&flagMaxNodes, "max-nodes", 50, "Node budget per fuzzed tree")
	replCmd.Flags().BoolVar(&flagHex, "hex", false, "Inputs are hex-encoded bytes")

	root.AddCommand(fuzzCmd, parseCmd, replCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func traceLevel(l string) tracing.TraceLevel {
	return tracing.TraceLevelFromString(l)
}

func runFuzz(cmd *cobra.Command, args []string) error {
	g, err := grammarByName(flagGrammar)
	if err != nil {
		return err
	}
	rnd := rand.New(rand.NewSource(flagSeed))
	for i := 0; i < flagCount; i++ {
		t, err := g.Fuzz(rnd, nt(flagStart), flagMaxNodes)
		if err != nil {
			return err
		}
		surface := t.ToBytes()
		if isPrintable(surface) {
			pterm.Success.Printf("%s\n", surface)
		} else {
			pterm.Success.Printf("%s\n", hex.EncodeToString(surface))
		}
	}
	return nil
}

func runParse(cmd *cobra.Command, args []string) error {
	g, err := grammarByName(flagGrammar)
	if err != nil {
		return err
	}
	input, err := decodeInput(args[0])
	if err != nil {
		return err
	}
	t, err := g.Parse(input, nt(flagStart))
	if err != nil {
		pterm.Error.Println(err.Error())
		return err
	}
	pterm.Success.Println("input accepted")
	pterm.Println(t.ToTree())
	return nil
}

func decodeInput(s string) ([]byte, error) {
	if flagHex {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("cannot decode hex input: %v", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

func isPrintable(b []byte) bool {
	for _, by := range b {
		if by < 0x20 || by > 0x7e {
			return false
		}
	}
	return true
}

package grammar

import (
	"strings"

	"github.com/cnf/structhash"
	"github.com/npillmayer/gander"
	"github.com/npillmayer/gander/tree"
)

// The main parse loop. Columns are processed left to right; within a
// column, states are processed in insertion order, which makes the first
// tree of an ambiguous parse deterministic (first-in-column wins).
//
// The chart starts with one column per input byte plus one, and grows on
// demand when bits are scanned: bitCount in [-1..7] names the next bit to
// consume (when nonnegative), so the column index k may run ahead of the
// byte index w.

// chart is the growable column table of one parse run.
type chart struct {
	cols []*column
}

func newChart(n int) *chart {
	c := &chart{cols: make([]*column, n)}
	for i := range c.cols {
		c.cols[i] = newColumn()
	}
	return c
}

func (c *chart) len() int         { return len(c.cols) }
func (c *chart) at(i int) *column { return c.cols[i] }

// insertAfter inserts a fresh column behind position k. Bit scanning
// widens the chart this way, one column per scanned bit.
func (c *chart) insertAfter(k int) {
	c.cols = append(c.cols, nil)
	copy(c.cols[k+2:], c.cols[k+1:])
	c.cols[k+1] = newColumn()
}

// --- Public API -------------------------------------------------------------

// Forest iterates over the alternative parse trees of one input.
type Forest struct {
	trees []*tree.Tree
	pos   int
}

// Next returns the next parse alternative, or nil when exhausted.
func (f *Forest) Next() *tree.Tree {
	if f == nil || f.pos >= len(f.trees) {
		return nil
	}
	t := f.trees[f.pos]
	f.pos++
	return t
}

// Len returns the number of alternatives.
func (f *Forest) Len() int {
	if f == nil {
		return 0
	}
	return len(f.trees)
}

// ParseOption configures a parse run.
type ParseOption func(*parseConfig)

type parseConfig struct {
	mode     Mode
	hookin   *tree.Tree
	keepCtrl bool
}

// WithMode selects complete or incomplete parsing. Defaults to Complete.
func WithMode(mode Mode) ParseOption {
	return func(cfg *parseConfig) { cfg.mode = mode }
}

// WithHookinParent parses a fragment as if it were located inside the
// given pre-existing tree, making that tree's content available to
// data-dependent repetition bounds.
func WithHookinParent(parent *tree.Tree) ParseOption {
	return func(cfg *parseConfig) { cfg.hookin = parent }
}

// KeepControlFlow returns trees with the synthetic nonterminals still in
// place instead of collapsing them.
func KeepControlFlow() ParseOption {
	return func(cfg *parseConfig) { cfg.keepCtrl = true }
}

// Parse parses word (a string, a byte slice, or a derivation tree, whose
// surface is linearized first) starting at the given nonterminal and
// returns the first parse tree. In Complete mode a failed parse returns a
// ParseError carrying the maximum input position reached.
func (g *Grammar) Parse(word interface{}, start gander.Symbol, opts ...ParseOption) (*tree.Tree, error) {
	forest, err := g.ParseForest(word, start, opts...)
	if err != nil {
		return nil, err
	}
	if t := forest.Next(); t != nil {
		return t, nil
	}
	input, _ := linearize(word)
	perr := &ParseError{
		MaxPosition: g.parser.maxPosition,
		msg:         "no parse possible for " + start.Name(),
	}
	if perr.MaxPosition >= 0 && perr.MaxPosition <= len(input) {
		lo := perr.MaxPosition - 8
		if lo < 0 {
			lo = 0
		}
		hi := perr.MaxPosition + 8
		if hi > len(input) {
			hi = len(input)
		}
		perr.Offending = input[lo:hi]
		perr.Span = gander.Span{uint64(lo), uint64(hi)}
	}
	return nil, perr
}

// ParseForest parses word and returns every parse alternative. Results
// are cached per (input, start, mode, hook-in parent).
func (g *Grammar) ParseForest(word interface{}, start gander.Symbol, opts ...ParseOption) (*Forest, error) {
	p := g.parser
	if p.compileErr != nil {
		return nil, p.compileErr
	}
	if _, ok := g.rules[start]; !ok {
		return nil, &ParseError{
			MaxPosition: -1,
			Suggestion:  g.closestSymbol(start.Name()),
			msg:         "start symbol " + start.Name() + " not defined in grammar",
		}
	}
	cfg := &parseConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	input, starterBit := linearize(word)

	key := p.cacheKey(input, start, cfg)
	raw, hit := p.cache[key]
	if !hit {
		raw = p.parseForest(input, start, cfg, starterBit)
		p.cache[key] = raw
	}
	forest := &Forest{}
	for _, t := range raw {
		cpy := t.Deepcopy()
		if !cfg.keepCtrl {
			cpy = p.collapse(cpy)
		}
		forest.trees = append(forest.trees, cpy)
	}
	return forest, nil
}

// ParseMultiple is ParseForest under another name; use it to obtain the
// alternatives of incomplete inputs.
func (g *Grammar) ParseMultiple(word interface{}, start gander.Symbol, opts ...ParseOption) (*Forest, error) {
	return g.ParseForest(word, start, opts...)
}

// MaxPosition returns the maximum input position reached during the last
// parse, for error reporting.
func (g *Grammar) MaxPosition() int {
	return g.parser.maxPosition
}

// linearize renders a parse input into bytes. A derivation tree
// containing byte content additionally reports the bit offset its last
// terminal ended at, so that bit-level parsing resumes in phase.
func linearize(word interface{}) ([]byte, int) {
	switch w := word.(type) {
	case []byte:
		return w, -1
	case string:
		return []byte(w), -1
	case *tree.Tree:
		if w.ContainsBytes() {
			return w.ToBytes(), (w.CountTerminals() - 1) % 8
		}
		return []byte(w.ToString()), -1
	}
	return nil, -1
}

func (p *earleyParser) cacheKey(input []byte, start gander.Symbol, cfg *parseConfig) string {
	var hookin uint64
	if cfg.hookin != nil {
		hookin = cfg.hookin.Hash()
	}
	key := struct {
		Word   string
		Start  string
		Mode   int
		Hookin uint64
	}{string(input), start.Name(), int(cfg.mode), hookin}
	hash, err := structhash.Hash(key, 1)
	if err != nil {
		// API demands an error return; cannot happen for this struct
		panic(err)
	}
	return hash
}

// --- The chart loop ---------------------------------------------------------

func (p *earleyParser) parseForest(word []byte, start gander.Symbol, cfg *parseConfig, starterBit int) []*tree.Tree {
	p.clearTmp()
	var hookin *tree.Tree
	if cfg.hookin != nil {
		hookin = cfg.hookin.Deepcopy()
	}
	tbl := newChart(len(word) + 1)
	startAlt := p.newAlternative([]symref{ref(start)})
	tbl.at(0).add(&parseState{nonterminal: p.implicitStart, origin: 0, alt: startAlt})

	p.maxPosition = -1
	var results []*tree.Tree
	yielded := map[uint64]bool{}
	yield := func(t *tree.Tree) {
		results = append(results, rebuild(t))
	}

	w := 0                 // index into the input word
	k := 0                 // index into the chart; may differ from w due to bits
	bitCount := starterBit // if >= 0, the next bit to be scanned (7-0)
	nrBitsScanned := 0

	for k < tbl.len() {
		atEnd := w >= len(word)
		col := tbl.at(k)
		for i := 0; i < len(col.states); i++ {
			state := col.states[i]
			if state.finished() {
				if state.nonterminal == p.implicitStart && atEnd {
					tracer().Debugf("found %d parse tree(s) at column %d", len(state.children), k)
					for _, child := range state.children {
						yield(child)
					}
				}
				p.complete(state, tbl, k)
			} else if !state.incomplete {
				if state.nextIsNonTerm() {
					p.predict(state, tbl, k, hookin)
				} else if sr, ok := state.dotSymbol(); ok {
					if sr.sym.IsBit() {
						if bitCount < 0 {
							bitCount = 7
						}
						p.scanBit(state, word, tbl, k, w, bitCount, nrBitsScanned)
					} else {
						if bitCount >= 0 && bitCount <= 7 {
							// A bit was peeked at but not committed, or the
							// grammar has bits not in multiples of eight; get
							// back to byte scanning.
							tracer().Infof("position %#06x (%d): scanning a byte while expecting bit %d; check that bits come in multiples of eight", w, w, bitCount)
							bitCount = -1
						}
						if sr.sym.IsRegex() {
							p.scanRegex(state, word, tbl, k, w, cfg.mode)
						} else {
							p.scanBytes(state, word, tbl, k, w, cfg.mode)
						}
					}
				}
			} else if state.nextIsNonTerm() {
				p.predict(state, tbl, k, nil)
			}
		}
		if cfg.mode == Incomplete && atEnd {
			for i := 0; i < len(col.states); i++ {
				state := col.states[i]
				state.incomplete = true
				if state.dot == 0 {
					continue
				}
				if state.nonterminal == p.implicitStart {
					for _, child := range state.children {
						if !yielded[child.Hash()] {
							yielded[child.Hash()] = true
							yield(child)
						}
					}
				}
				p.complete(state, tbl, k)
			}
		}
		if bitCount >= 0 {
			bitCount--
			nrBitsScanned++
		}
		if bitCount < 0 {
			w++
		}
		p.placeRepetitionShortcut(tbl, k)
		k++
	}
	return results
}

// --- Completer --------------------------------------------------------------

// complete advances every state of the origin column which expects the
// completed nonterminal. A completed user or intermediate rule wraps its
// children into a fresh tree node; a completed implicit rule splices its
// children in place.
func (p *earleyParser) complete(state *parseState, tbl *chart, k int) {
	if state.origin >= tbl.len() {
		return
	}
	for _, s := range tbl.at(state.origin).findDot(state.nonterminal) {
		sr, _ := s.dotSymbol()
		adv := s.next()
		if _, isRule := p.rules[state.nonterminal]; isRule {
			node := tree.New(state.nonterminal, append([]*tree.Tree(nil), state.children...)...)
			node.SetSender(sr.sender)
			node.SetRecipient(sr.recipient)
			adv.children = append(adv.children, node)
		} else {
			adv.children = append(adv.children, state.children...)
		}
		tbl.at(k).add(adv)
	}
}

// --- Predictor --------------------------------------------------------------

func (p *earleyParser) predict(state *parseState, tbl *chart, k int, hookin *tree.Tree) {
	sr, ok := state.dotSymbol()
	if !ok {
		return
	}
	if alts, ok := p.rules[sr.sym]; ok {
		for _, alt := range alts {
			tbl.at(k).add(&parseState{nonterminal: sr.sym, origin: k, alt: alt})
		}
		return
	}
	if alts, ok := p.implicitRules[sr.sym]; ok {
		for _, alt := range alts {
			tbl.at(k).add(&parseState{nonterminal: sr.sym, origin: k, alt: alt})
		}
		return
	}
	if alts, ok := p.tmpRules[sr.sym]; ok {
		for _, alt := range alts {
			tbl.at(k).add(&parseState{nonterminal: sr.sym, origin: k, alt: alt})
		}
		return
	}
	if ctx, ok := p.ctxRules[sr.sym]; ok {
		p.predictCtxRule(state, tbl, k, ctx, hookin)
	}
}

// constructIncompleteTree reconstructs the partial tree parsed into a
// state by tracing the chain of expectations backwards through the chart.
func (p *earleyParser) constructIncompleteTree(state *parseState, tbl *chart) *tree.Tree {
	currentTree := tree.New(state.nonterminal, append([]*tree.Tree(nil), state.children...)...)
	currentState := state
	for {
		var nextState *parseState
		if currentState.origin < tbl.len() {
			for _, ts := range tbl.at(currentState.origin).states {
				if sr, ok := ts.dotSymbol(); ok && sr.sym == currentState.nonterminal {
					nextState = ts
					break
				}
			}
		}
		if nextState == nil {
			break
		}
		sr, _ := nextState.dotSymbol()
		var merged []*tree.Tree
		if strings.HasPrefix(currentTree.Symbol().Name(), "<*") {
			merged = append(append([]*tree.Tree(nil), nextState.children...), currentTree.Children()...)
		} else {
			merged = append(append([]*tree.Tree(nil), nextState.children...), currentTree)
		}
		next := tree.New(nextState.nonterminal, merged...)
		next.SetSender(sr.sender)
		next.SetRecipient(sr.recipient)
		currentTree = next
		currentState = nextState
	}
	if currentTree.NumChildren() == 0 {
		return nil
	}
	return currentTree.Child(0)
}

// predictCtxRule lazily builds the body of a context rule: the partial
// tree parsed so far is materialized and handed to the repetition
// compiler, which can now resolve the bounds' path queries. If bound
// evaluation fails, the state is silently dropped; this derivation
// cannot continue.
func (p *earleyParser) predictCtxRule(state *parseState, tbl *chart, k int, ctx *ctxRule, hookin *tree.Tree) {
	partial := p.constructIncompleteTree(state, tbl)
	partial = p.collapse(partial)
	anchor := partial
	if hookin != nil {
		if partial != nil {
			hookin.AddChild(partial)
		}
		anchor = hookin
	}
	body, err := p.compileRepetition(ctx.node, &ctx.innerNT, anchor)
	if hookin != nil && partial != nil {
		hookin.DropLastChild()
	}
	if err != nil {
		tracer().Debugf("context rule unresolvable, dropping derivation: %v", err)
		return
	}
	if len(body) != 1 || len(body[0]) != 1 {
		return
	}
	contextNT := body[0][0]
	dotSym, _ := state.dotSymbol()
	newSyms := make([]symref, 0, len(state.alt.syms))
	placed := false
	for _, sr := range state.alt.syms {
		if sr.sym == dotSym.sym && !placed {
			newSyms = append(newSyms, contextNT)
			placed = true
		} else {
			newSyms = append(newSyms, sr)
		}
	}
	newState := &parseState{
		nonterminal: state.nonterminal,
		origin:      state.origin,
		alt:         p.newAlternative(newSyms),
		dot:         state.dot,
		children:    state.children,
		incomplete:  state.incomplete,
	}
	if tbl.at(k).contains(state) {
		tbl.at(k).replace(state, newState)
	}
	p.predict(newState, tbl, k, hookin)
}

// --- Scanners ---------------------------------------------------------------

// scanBit scans a single bit of word[w]. The chart holds one column per
// input byte, so a column is inserted on demand for each scanned bit.
func (p *earleyParser) scanBit(state *parseState, word []byte, tbl *chart, k, w, bitCount, nrBitsScanned int) bool {
	if w >= len(word) {
		return false
	}
	bit := (word[w] >> uint(bitCount)) & 1
	sr, _ := state.dotSymbol()
	if !sr.sym.CheckBit(bit) {
		return false
	}
	next := state.next()
	next.children = append(next.children, tree.New(gander.Bit(int(bit))))
	if tbl.len() <= len(word)+1+nrBitsScanned {
		tbl.insertAfter(k)
	}
	tbl.at(k + 1).add(next)
	if w > p.maxPosition {
		p.maxPosition = w
	}
	return true
}

// scanBytes scans a literal terminal against the byte stream.
func (p *earleyParser) scanBytes(state *parseState, word []byte, tbl *chart, k, w int, mode Mode) bool {
	sr, _ := state.dotSymbol()
	match, length := sr.sym.Check(word[w:], false)
	if !match {
		if mode != Incomplete || w+sr.sym.Len() < len(word) {
			return false
		}
		match, length = sr.sym.Check(word[w:], true)
		if !match || length == 0 {
			return false
		}
		state.incomplete = true
	}
	next := state.next()
	next.children = append(next.children, terminalLeaf(sr.sym, word[w:w+length]))
	tbl.at(k + length).add(next)
	if w+length > p.maxPosition {
		p.maxPosition = w + length
	}
	return true
}

// scanRegex scans a regex terminal against the byte stream.
func (p *earleyParser) scanRegex(state *parseState, word []byte, tbl *chart, k, w int, mode Mode) bool {
	sr, _ := state.dotSymbol()
	match, length := sr.sym.Check(word[w:], false)
	if !match {
		if mode != Incomplete {
			return false
		}
		match, length = sr.sym.Check(word[w:], true)
		if !match || w+length < len(word) {
			return false
		}
		state.incomplete = true
	}
	next := state.next()
	next.children = append(next.children, terminalLeaf(sr.sym, word[w:w+length]))
	tbl.at(k + length).add(next)
	if w+length > p.maxPosition {
		p.maxPosition = w + length
	}
	return true
}

// terminalLeaf creates the tree leaf for a scanned terminal, staying in
// the domain of the scanning symbol.
func terminalLeaf(sym gander.Symbol, matched []byte) *tree.Tree {
	if sym.InByteDomain() || sym.Kind() == gander.BytesKind {
		return tree.New(gander.ByteLit(matched))
	}
	return tree.New(gander.Lit(string(matched)))
}

// --- Right-recursion shortcut -----------------------------------------------

// placeRepetitionShortcut collapses the backpointer chain of a
// right-recursive Plus/Star state into a single state, concatenating the
// intermediate children. This keeps long repetitions linear instead of
// quadratic. The shortcut only fires when exactly one backpointer chain
// exists, so the yielded tree is preserved.
func (p *earleyParser) placeRepetitionShortcut(tbl *chart, k int) {
	col := tbl.at(k)
	beginnerPrefixes := []string{"<__plus:", "<__star:"}
	isBeginner := func(sym gander.Symbol) bool {
		for _, prefix := range beginnerPrefixes {
			if strings.HasPrefix(sym.Name(), prefix) {
				return true
			}
		}
		return false
	}

	foundBeginners := map[gander.Symbol]bool{}
	for _, state := range col.states {
		if isBeginner(state.nonterminal) && len(state.alt.syms) > 0 {
			foundBeginners[state.alt.syms[0].sym] = true
		}
	}
	for beginner := range foundBeginners {
		var current *parseState
		for _, state := range col.states {
			if state.nonterminal != beginner || state.finished() {
				continue
			}
			if sr, ok := state.dotSymbol(); ok && len(state.alt.syms) == 2 && sr.sym == beginner {
				current = state
				break
			}
		}
		if current == nil {
			continue
		}
		newState := current
		originStates := tbl.at(current.origin).findDot(beginner)
		if len(originStates) != 1 {
			continue
		}
		origin := originStates[0]
		for !isBeginner(origin.nonterminal) {
			newState = &parseState{
				nonterminal: newState.nonterminal,
				origin:      origin.origin,
				alt:         newState.alt,
				dot:         newState.dot,
				children:    append(append([]*tree.Tree(nil), origin.children...), newState.children...),
				incomplete:  newState.incomplete,
			}
			sr, ok := newState.dotSymbol()
			if !ok {
				newState = nil
				break
			}
			next := tbl.at(newState.origin).findDot(sr.sym)
			if len(next) != 1 {
				newState = nil
				break
			}
			origin = next[0]
		}
		if newState != nil && newState != current {
			col.replace(current, newState)
		}
	}
}

package tree

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/npillmayer/gander"
)

// This file holds the converters from derivation trees to surface values:
// strings, byte sequences, bit sequences, and aggregated values. A tree
// may mix all three terminal domains; the aggregation rules below follow
// the usual reading: bits accumulate into integers by shifting, and an
// integer meeting a string or byte neighbour is flushed into a byte.

// Value returns the aggregated content of the subtree: a string, a byte
// slice, an int (for pure bit runs), or nil for an empty tree.
func (t *Tree) Value() interface{} {
	v, _ := t.value()
	return v
}

// value returns the aggregate and the number of bits it holds (nonzero
// only while the aggregate is an int built from bit leaves).
func (t *Tree) value() (interface{}, int) {
	if t.sym.IsTerminal() {
		switch t.sym.Kind() {
		case gander.BitKind:
			return int(t.sym.BitValue()), 1
		case gander.BytesKind:
			return t.sym.Payload(), 0
		default:
			return t.sym.Name(), 0
		}
	}
	var aggregate interface{}
	bits := 0
	for _, c := range t.children {
		v, childBits := c.value()
		if v == nil {
			continue
		}
		if aggregate == nil {
			aggregate = v
			bits = childBits
			continue
		}
		switch agg := aggregate.(type) {
		case string:
			switch val := v.(type) {
			case string:
				aggregate = agg + val
			case []byte:
				aggregate = append([]byte(agg), val...)
			case int:
				aggregate = agg + string(rune(val))
				bits = 0
			}
		case []byte:
			switch val := v.(type) {
			case string:
				aggregate = append(agg, []byte(val)...)
			case []byte:
				aggregate = append(agg, val...)
			case int:
				aggregate = append(agg, byte(val))
				bits = 0
			}
		case int:
			switch val := v.(type) {
			case string:
				aggregate = append([]byte{byte(agg)}, []byte(val)...)
				bits = 0
			case []byte:
				aggregate = append([]byte{byte(agg)}, val...)
				bits = 0
			case int:
				aggregate = (agg << uint(childBits)) + val
				bits += childBits
			}
		}
	}
	return aggregate, bits
}

// ToString converts the subtree to a string. Byte content passes through
// unchanged (one char per byte); a pure bit run is rendered as its
// big-endian byte representation.
func (t *Tree) ToString() string {
	v := t.Value()
	switch val := v.(type) {
	case nil:
		return ""
	case int:
		return string(intToBytes(val))
	case []byte:
		return string(val)
	case string:
		return val
	}
	return ""
}

// intToBytes renders a nonnegative int as its minimal big-endian byte
// sequence, at least one byte long.
func intToBytes(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	for v > 0 {
		out = append([]byte{byte(v & 0xff)}, out...)
		v >>= 8
	}
	return out
}

// ContainsBits reports whether the subtree holds any single-bit leaves.
func (t *Tree) ContainsBits() bool { return t.containsKind(gander.BitKind) }

// ContainsBytes reports whether the subtree holds any byte-literal leaves.
func (t *Tree) ContainsBytes() bool { return t.containsKind(gander.BytesKind) }

// ContainsStrings reports whether the subtree holds any string leaves.
func (t *Tree) ContainsStrings() bool { return t.containsKind(gander.StringKind) }

func (t *Tree) containsKind(kind gander.SymbolKind) bool {
	if t.sym.IsTerminal() {
		return t.sym.Kind() == kind
	}
	for _, c := range t.children {
		if c.containsKind(kind) {
			return true
		}
	}
	return false
}

// ToBits converts the subtree to a sequence of '0' and '1' characters.
// String and byte leaves contribute eight bits per byte.
func (t *Tree) ToBits() string {
	var sb strings.Builder
	t.writeBits(&sb)
	return sb.String()
}

func (t *Tree) writeBits(sb *strings.Builder) {
	if t.sym.IsNonTerm() {
		for _, c := range t.children {
			c.writeBits(sb)
		}
		return
	}
	if t.sym.IsBit() {
		sb.WriteByte('0' + t.sym.BitValue())
		return
	}
	for _, by := range t.sym.Payload() {
		fmt.Fprintf(sb, "%08b", by)
	}
}

// ToBytes converts the subtree to its byte surface. If the tree contains
// bit leaves, the whole surface is assembled bit-wise and packed into
// bytes; a trailing run of fewer than eight bits becomes a byte of its
// own.
func (t *Tree) ToBytes() []byte {
	if t.ContainsBits() {
		bits := t.ToBits()
		var out []byte
		for i := 0; i < len(bits); i += 8 {
			end := i + 8
			if end > len(bits) {
				end = len(bits)
			}
			v, _ := strconv.ParseUint(bits[i:end], 2, 8)
			out = append(out, byte(v))
		}
		return out
	}
	var buf bytes.Buffer
	t.writeBytes(&buf)
	return buf.Bytes()
}

func (t *Tree) writeBytes(buf *bytes.Buffer) {
	if t.sym.IsNonTerm() {
		for _, c := range t.children {
			c.writeBytes(buf)
		}
		return
	}
	buf.Write(t.sym.Payload())
}

// ToInt interprets the surface as a decimal integer.
func (t *Tree) ToInt() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(t.ToString()))
	return n, err == nil
}

// ToFloat interprets the surface as a float.
func (t *Tree) ToFloat() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(t.ToString()), 64)
	return f, err == nil
}

// ToValue renders the aggregated value for diagnostics.
func (t *Tree) ToValue() string {
	v := t.Value()
	if n, ok := v.(int); ok {
		return fmt.Sprintf("0b%b (%d)", n, n)
	}
	return fmt.Sprintf("%q", v)
}

// --- Pretty printing --------------------------------------------------------

func (t *Tree) String() string {
	return t.ToString()
}

// ToTree pretty-prints the derivation tree for visualization.
func (t *Tree) ToTree() string {
	return t.toTree(0, 0)
}

func (t *Tree) toTree(indent, startIndent int) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", startIndent))
	sb.WriteString("Tree(")
	sb.WriteString(t.sym.String())
	if len(t.children) == 1 && len(t.sources) == 0 {
		sb.WriteString(", ")
		sb.WriteString(t.children[0].toTree(indent, 0))
	} else {
		hasChildren := false
		for _, c := range t.children {
			sb.WriteString(",\n")
			sb.WriteString(c.toTree(indent+1, indent+1))
			hasChildren = true
		}
		if len(t.sources) > 0 {
			sb.WriteString(",\n" + strings.Repeat("  ", indent+1) + "sources=[\n")
			for _, s := range t.sources {
				sb.WriteString(s.toTree(indent+2, indent+2))
				sb.WriteString(",\n")
				hasChildren = true
			}
			sb.WriteString(strings.Repeat("  ", indent+1) + "]")
		}
		if hasChildren {
			sb.WriteString("\n" + strings.Repeat("  ", indent))
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// ToRepr prints the tree in its internal representation, mainly for
// debugging.
func (t *Tree) ToRepr() string {
	return t.toRepr(0, 0)
}

func (t *Tree) toRepr(indent, startIndent int) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", startIndent))
	sb.WriteString("Tree(")
	sb.WriteString(t.sym.String())
	if len(t.children) == 1 && len(t.sources) == 0 {
		sb.WriteString(", [")
		sb.WriteString(t.children[0].toRepr(indent, 0))
		sb.WriteString("])")
		return sb.String()
	}
	if len(t.children)+len(t.sources) >= 1 {
		sb.WriteString(",\n" + strings.Repeat("  ", indent) + "  [\n")
		for _, c := range t.children {
			sb.WriteString(c.toRepr(indent+2, indent+2))
			sb.WriteString(",\n")
		}
		sb.WriteString(strings.Repeat("  ", indent) + "  ]")
		if len(t.sources) > 0 {
			sb.WriteString(",\n" + strings.Repeat("  ", indent+1) + "sources=[\n")
			for _, s := range t.sources {
				sb.WriteString(s.toRepr(indent+2, indent+2))
				sb.WriteString(",\n")
			}
			sb.WriteString(strings.Repeat("  ", indent+1) + "]")
		}
		sb.WriteString("\n" + strings.Repeat("  ", indent) + ")")
		return sb.String()
	}
	sb.WriteString(")")
	return sb.String()
}

// ToGrammar dumps the tree as a specialized grammar: one rule per inner
// node, annotated with byte offsets (and bit offsets where bit leaves are
// involved) and aggregated values.
func (t *Tree) ToGrammar(includePosition, includeValue bool) string {
	s, _, _ := t.toGrammar(0, 0, -1, 0, includePosition, includeValue)
	return s
}

func (t *Tree) toGrammar(indent, startIndent, bitCount, byteCount int,
	includePosition, includeValue bool) (string, int, int) {
	//
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", startIndent))
	sb.WriteString(t.sym.Name())
	sb.WriteString(" ::=")
	terminalSymbols := 0
	position := fmt.Sprintf("  # Position %#06x (%d)", byteCount, byteCount)
	maxBitCount := bitCount - 1

	for _, c := range t.children {
		if c.sym.IsNonTerm() {
			sb.WriteString(" " + c.sym.Name())
			continue
		}
		sb.WriteString(" " + c.sym.String())
		terminalSymbols++
		if c.sym.IsBit() {
			if bitCount <= 0 {
				bitCount = 7
				maxBitCount = 7
			} else {
				bitCount--
				if bitCount == 0 {
					byteCount++
				}
			}
		} else {
			byteCount += c.sym.Len()
			bitCount = -1
		}
	}
	if len(t.sources) > 0 {
		names := make([]string, len(t.sources))
		for i, s := range t.sources {
			names[i] = s.sym.Name()
		}
		sb.WriteString(" := f(" + strings.Join(names, ", ") + ")")
	}
	havePosition := false
	if includePosition && terminalSymbols > 0 {
		havePosition = true
		sb.WriteString(position)
		if bitCount >= 0 {
			if maxBitCount != bitCount {
				sb.WriteString(fmt.Sprintf(", bits %d-%d", maxBitCount, bitCount))
			} else {
				sb.WriteString(fmt.Sprintf(", bit %d", bitCount))
			}
		}
	}
	if includeValue && len(t.children) >= 2 {
		if havePosition {
			sb.WriteString("; ")
		} else {
			sb.WriteString("  # ")
		}
		sb.WriteString(t.ToValue())
	}
	for _, c := range t.children {
		if c.sym.IsNonTerm() {
			var childStr string
			childStr, bitCount, byteCount = c.toGrammar(indent+1, indent+1,
				bitCount, byteCount, includePosition, includeValue)
			sb.WriteString("\n" + childStr)
		}
		for _, src := range c.sources {
			childStr, _, _ := src.toGrammar(indent+2, indent+1, -1, 0,
				includePosition, includeValue)
			sb.WriteString("\n  " + childStr)
		}
	}
	return sb.String(), bitCount, byteCount
}

// --- Construction from nested pairs -----------------------------------------

// Pair is a nested (symbol, children) representation of a tree, used by
// generator functions which return structured output. A symbol of the
// form "<…>" denotes a nonterminal, everything else a string literal.
type Pair struct {
	Symbol   string
	Children []Pair
}

// FromPairs constructs a derivation tree from nested pairs.
func FromPairs(p Pair) *Tree {
	var sym gander.Symbol
	if strings.HasPrefix(p.Symbol, "<") && strings.HasSuffix(p.Symbol, ">") {
		sym = gander.NT(p.Symbol)
	} else {
		sym = gander.Lit(p.Symbol)
	}
	children := make([]*Tree, len(p.Children))
	for i, c := range p.Children {
		children[i] = FromPairs(c)
	}
	return New(sym, children...)
}

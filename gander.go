package gander

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

// --- Grammar symbols --------------------------------------------------------

// SymbolKind is a category type for a Symbol.
type SymbolKind int8

// The kinds of symbols a grammar may contain. Terminals come in four
// flavors: string literals, byte literals, single bits, and regex patterns
// (over the string or the byte domain).
const (
	NonTermKind SymbolKind = iota
	StringKind
	BytesKind
	BitKind
	RegexKind
)

func (k SymbolKind) String() string {
	switch k {
	case NonTermKind:
		return "nonterminal"
	case StringKind:
		return "string"
	case BytesKind:
		return "bytes"
	case BitKind:
		return "bit"
	case RegexKind:
		return "regex"
	}
	return "<unknown symbol kind>"
}

// Symbol is a grammar symbol: either a nonterminal, identified by a name
// conventionally surrounded by '<…>', or a terminal carrying a literal
// string, a literal byte sequence, a single bit, or a regex pattern.
//
// Symbol is a small comparable value type. Clients compare symbols with ==
// and use them as map keys; two symbols are equal iff kind and payload are
// equal.
type Symbol struct {
	kind    SymbolKind
	payload string // nonterminal name, literal text, or regex pattern
	bit     uint8  // for BitKind
	inBytes bool   // payload or pattern lives in the byte domain
}

// NT creates a nonterminal symbol. Names are conventionally of the form
// "<name>"; this is not enforced.
func NT(name string) Symbol {
	return Symbol{kind: NonTermKind, payload: name}
}

// Lit creates a string-literal terminal.
func Lit(s string) Symbol {
	return Symbol{kind: StringKind, payload: s}
}

// ByteLit creates a byte-literal terminal.
func ByteLit(b []byte) Symbol {
	return Symbol{kind: BytesKind, payload: string(b), inBytes: true}
}

// Bit creates a single-bit terminal. b must be 0 or 1.
func Bit(b int) Symbol {
	if b != 0 && b != 1 {
		panic(fmt.Sprintf("gander.Bit(%d): bit must be 0 or 1", b))
	}
	return Symbol{kind: BitKind, payload: strconv.Itoa(b), bit: uint8(b)}
}

// Pattern creates a regex terminal over the string domain.
func Pattern(expr string) Symbol {
	return Symbol{kind: RegexKind, payload: expr}
}

// BytePattern creates a regex terminal over the byte domain. Byte-domain
// patterns are matched byte-wise (each input byte is treated as one
// latin-1 character).
func BytePattern(expr string) Symbol {
	return Symbol{kind: RegexKind, payload: expr, inBytes: true}
}

// Kind returns the symbol's kind tag.
func (sym Symbol) Kind() SymbolKind { return sym.kind }

// IsNonTerm reports whether sym is a nonterminal.
func (sym Symbol) IsNonTerm() bool { return sym.kind == NonTermKind }

// IsTerminal reports whether sym is any kind of terminal.
func (sym Symbol) IsTerminal() bool { return sym.kind != NonTermKind }

// IsRegex reports whether sym is a regex terminal.
func (sym Symbol) IsRegex() bool { return sym.kind == RegexKind }

// IsBit reports whether sym is a single-bit terminal.
func (sym Symbol) IsBit() bool { return sym.kind == BitKind }

// InByteDomain reports whether a literal or pattern lives in the byte
// domain rather than the string domain.
func (sym Symbol) InByteDomain() bool { return sym.inBytes }

// Name returns the name of a nonterminal, or the payload text of a
// terminal (literal text or regex source).
func (sym Symbol) Name() string { return sym.payload }

// BitValue returns the bit of a BitKind symbol (0 or 1).
func (sym Symbol) BitValue() uint8 { return sym.bit }

// Payload returns the byte rendering of a literal terminal: the raw bytes
// for byte literals, the UTF-8 encoding for string literals, nil for
// every other kind.
func (sym Symbol) Payload() []byte {
	switch sym.kind {
	case StringKind, BytesKind:
		return []byte(sym.payload)
	}
	return nil
}

// Len returns the surface length of a literal terminal in bytes; bits
// count as 1. Regex terminals and nonterminals have no fixed length and
// report 0.
func (sym Symbol) Len() int {
	switch sym.kind {
	case StringKind, BytesKind:
		return len(sym.payload)
	case BitKind:
		return 1
	}
	return 0
}

// Hash returns a stable structural hash of the symbol.
func (sym Symbol) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(sym.kind), sym.bit, b2i(sym.inBytes)})
	h.Write([]byte(sym.payload))
	return h.Sum64()
}

func b2i(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Check reports whether the terminal matches at the head of word, and how
// many bytes it consumed. With incomplete set, the whole of word must be
// a prefix of the terminal (or, for regexes, a prefix of some matching
// string), the complete terminal included, and the match consumes all of
// word; a word which continues beyond the terminal does not match in
// that mode.
//
// Bit terminals do not scan byte streams; use CheckBit for those.
func (sym Symbol) Check(word []byte, incomplete bool) (bool, int) {
	switch sym.kind {
	case StringKind, BytesKind:
		lit := sym.payload
		if !incomplete {
			if len(word) >= len(lit) && string(word[:len(lit)]) == lit {
				return true, len(lit)
			}
			return false, 0
		}
		if len(word) <= len(lit) && lit[:len(word)] == string(word) {
			return true, len(word)
		}
		return false, 0
	case RegexKind:
		return sym.checkRegex(word, incomplete)
	}
	return false, 0
}

// CheckBit reports whether a bit terminal matches the given bit.
func (sym Symbol) CheckBit(bit uint8) bool {
	return sym.kind == BitKind && sym.bit == bit
}

func (sym Symbol) String() string {
	switch sym.kind {
	case NonTermKind:
		return sym.payload
	case StringKind:
		return strconv.Quote(sym.payload)
	case BytesKind:
		return fmt.Sprintf("b%q", sym.payload)
	case BitKind:
		return sym.payload
	case RegexKind:
		if sym.inBytes {
			return "rb" + strconv.Quote(sym.payload)
		}
		return "r" + strconv.Quote(sym.payload)
	}
	return "<invalid symbol>"
}

// --- Spans ------------------------------------------------------------------

// Span is a small type for capturing a stretch of input. It denotes a
// start position and the position just behind the end. Parsers report the
// offending input region of a syntax error as a span.
type Span [2]uint64 // (x…y)

// From returns the start value of a span.
func (s Span) From() uint64 {
	return s[0]
}

// To returns the end value of a span.
func (s Span) To() uint64 {
	return s[1]
}

// Len returns the length of (x…y)
func (s Span) Len() uint64 {
	return s[1] - s[0]
}

func (s Span) IsNull() bool {
	return s == Span{}
}

func (s Span) Extend(other Span) Span {
	if other[0] < s[0] {
		s[0] = other[0]
	}
	if other[1] > s[1] {
		s[1] = other[1]
	}
	return s
}

func (s Span) String() string {
	return fmt.Sprintf("(%d…%d)", s[0], s[1])
}

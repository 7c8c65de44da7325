package symtab

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Level is the severity attached to a log statement.
type Level int

const (
	LevelNone Level = iota // println, write and other untagged output
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"", "TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelNone || int(l) >= len(levelNames) {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel maps a level or defmt tag name to a Level. Names that carry no
// severity (println, write, str, ...) map to LevelNone.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimPrefix(name, "defmt_")) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelNone
}

// Kind is the wire type of one argument.
type Kind int

const (
	KindBool Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindF32
	KindF64
	KindUsize
	KindIsize
	KindChar
	KindStr    // uleb128 length + utf8 bytes
	KindIstr   // uleb128 index of an interned string
	KindSlice  // [u8]: uleb128 length + bytes
	KindArray  // [u8;N]: N bytes
	KindFormat // ?: nested index + arguments

	KindFormatSlice // [?]: uleb128 count, then count nested formats
	KindFormatArray // [?;N]: N nested formats
	KindFormatSeq   // nested formats until a zero index
	KindDisplay     // text formatted on the target, encoded like str
	KindBitField    // lo..hi: the bytes covering the bit range
)

var kindNames = map[string]Kind{
	"bool":  KindBool,
	"u8":    KindU8,
	"u16":   KindU16,
	"u32":   KindU32,
	"u64":   KindU64,
	"u128":  KindU128,
	"i8":    KindI8,
	"i16":   KindI16,
	"i32":   KindI32,
	"i64":   KindI64,
	"i128":  KindI128,
	"f32":   KindF32,
	"f64":   KindF64,
	"usize": KindUsize,
	"isize": KindIsize,
	"char":  KindChar,
	"str":   KindStr,
	"istr":  KindIstr,
	"[u8]":  KindSlice,
	"?":     KindFormat,
	"[?]":   KindFormatSlice,

	"__internal_FormatSequence": KindFormatSeq,
	"__internal_Display":        KindDisplay,
	"__internal_Debug":          KindDisplay,
}

// maxBitFieldEnd is the widest integer a bit range can select from.
const maxBitFieldEnd = 128

var errUnknownType = errors.New("unknown argument type")

// BitRange selects bits Start (inclusive) to End (exclusive) of an integer.
type BitRange struct {
	Start, End uint
}

func (b BitRange) String() string {
	return fmt.Sprintf("%d..%d", b.Start, b.End)
}

// byteSpan returns the lowest byte the range touches and how many bytes are
// sent for it on the wire.
func (b BitRange) byteSpan() (low, size int) {
	low = int(b.Start / 8)
	n := int((b.End-1)/8) - low + 1
	switch {
	case n <= 2:
		return low, n
	case n <= 4:
		return low, 4
	case n <= 8:
		return low, 8
	}
	return low, 16
}

// WireSize returns the encoded size of a bit field argument.
func (b BitRange) WireSize() int {
	_, size := b.byteSpan()
	return size
}

// WireShift returns how far the received bytes are shifted left to line up
// with the bit numbering.
func (b BitRange) WireShift() uint {
	low, _ := b.byteSpan()
	return uint(low) * 8
}

// ArgType is one entry of a descriptor's argument list.
type ArgType struct {
	Kind Kind
	Len  int      // element count for KindArray and KindFormatArray
	Bits BitRange // for KindBitField
}

// ParseArgType parses a type name as written in a format string or table
// file, e.g. "u32", "[u8]", "[u8; 16]", "[?]", "0..4".
func ParseArgType(name string) (ArgType, error) {
	name = strings.TrimSpace(name)
	if k, ok := kindNames[name]; ok {
		return ArgType{Kind: k}, nil
	}
	for prefix, kind := range map[string]Kind{"[u8;": KindArray, "[?;": KindFormatArray} {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, "]") {
			n, err := strconv.Atoi(strings.TrimSpace(name[len(prefix) : len(name)-1]))
			if err == nil && n >= 0 {
				return ArgType{Kind: kind, Len: n}, nil
			}
		}
	}
	if lo, hi, ok := strings.Cut(name, ".."); ok {
		start, err1 := strconv.ParseUint(lo, 10, 8)
		end, err2 := strconv.ParseUint(hi, 10, 8)
		if err1 == nil && err2 == nil && start < end && end <= maxBitFieldEnd {
			return ArgType{Kind: KindBitField, Bits: BitRange{Start: uint(start), End: uint(end)}}, nil
		}
		return ArgType{}, fmt.Errorf("%w: bit range %q", errUnknownType, name)
	}
	return ArgType{}, fmt.Errorf("%w %q", errUnknownType, name)
}

func (a ArgType) String() string {
	switch a.Kind {
	case KindArray:
		return fmt.Sprintf("[u8;%d]", a.Len)
	case KindFormatArray:
		return fmt.Sprintf("[?;%d]", a.Len)
	case KindBitField:
		return a.Bits.String()
	case KindDisplay:
		return "__internal_Display"
	}
	for name, k := range kindNames {
		if k == a.Kind {
			return name
		}
	}
	return fmt.Sprintf("kind(%d)", int(a.Kind))
}

// Hint selects how a value is rendered.
type Hint int

const (
	HintNone Hint = iota
	HintHex
	HintUpperHex
	HintHexAlt      // #x: 0x prefix
	HintUpperHexAlt // #X
	HintBin
	HintBinAlt // #b: 0b prefix
	HintOctal
	HintASCII // byte strings as b"..."
	HintDebug // ?: quoted strings

	HintMicros       // us: microsecond count shown as seconds
	HintMillis       // ms: millisecond count shown as seconds
	HintTimeMicros   // tus: days:hh:mm:ss.ffffff
	HintTimeMillis   // tms
	HintTimeSeconds  // ts
	HintISO8601Milli // iso8601ms: unix milliseconds as UTC date and time
	HintISO8601Sec   // iso8601s
)

var hintNames = map[string]Hint{
	"x":  HintHex,
	"X":  HintUpperHex,
	"#x": HintHexAlt,
	"#X": HintUpperHexAlt,
	"b":  HintBin,
	"#b": HintBinAlt,
	"o":  HintOctal,
	"a":  HintASCII,
	"?":  HintDebug,

	"us":        HintMicros,
	"ms":        HintMillis,
	"tus":       HintTimeMicros,
	"tms":       HintTimeMillis,
	"ts":        HintTimeSeconds,
	"iso8601ms": HintISO8601Milli,
	"iso8601s":  HintISO8601Sec,
}

// radixHints are the hints a zero padded width may be combined with; the
// empty key is plain decimal.
var radixHints = map[string]Hint{
	"":   HintNone,
	"x":  HintHex,
	"X":  HintUpperHex,
	"#x": HintHexAlt,
	"#X": HintUpperHexAlt,
	"b":  HintBin,
	"#b": HintBinAlt,
	"o":  HintOctal,
}

// parseHint returns the hint and zero padded width for a hint spec such as
// "x", "08b" or "#04x". Hints the decoder does not know, bitflags(..) among
// them, render as if no hint was given.
func parseHint(name string) (Hint, int) {
	if h, ok := hintNames[name]; ok {
		return h, 0
	}

	alt := strings.HasPrefix(name, "#")
	rest := strings.TrimPrefix(name, "#")
	if len(rest) < 2 || rest[0] != '0' {
		return HintNone, 0
	}
	digits := 1
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	width, err := strconv.Atoi(rest[1:digits])
	if err != nil {
		return HintNone, 0
	}
	radix := rest[digits:]
	if alt {
		radix = "#" + radix
	}
	h, ok := radixHints[radix]
	if !ok {
		return HintNone, 0
	}
	return h, width
}

package decoder

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"defmtitm/internal/demux"
	"defmtitm/internal/ocsd"
	"defmtitm/internal/symtab"
)

// MaxNestingDepth bounds recursion through nested format arguments.
const MaxNestingDepth = 8

// Arg is one decoded argument. Value holds bool, uint64, int64, *big.Int
// (128 bit), float32, float64, rune, string or []byte depending on Type;
// nested format arguments hold their rendered text. A bit field holds the
// received bits in place as uint64, or *big.Int past bit 64.
type Arg struct {
	Type  symtab.ArgType
	Value any
}

// LogEvent is one decoded log statement.
type LogEvent struct {
	Timestamp *uint64
	Level     symtab.Level
	Message   string
	Index     uint64
	Channel   uint8
	StreamIdx ocsd.TrcIndex
	Args      []Arg
	Location  *symtab.Location // nil when the table has none
}

// Decoder turns raw frames into log events using a symbol table. It keeps
// no state between frames and is safe for concurrent use.
type Decoder struct {
	table *symtab.Table
}

// New creates a decoder over table.
func New(table *symtab.Table) *Decoder {
	return &Decoder{table: table}
}

// Table returns the table the decoder resolves indices against.
func (d *Decoder) Table() *symtab.Table {
	return d.table
}

// Decode decodes one frame body. Errors are *DecodeError.
func (d *Decoder) Decode(frame demux.RawFrame) (LogEvent, error) {
	ev := LogEvent{
		Timestamp: frame.Timestamp,
		Channel:   frame.Channel,
		StreamIdx: frame.Index,
	}

	r := &reader{buf: frame.Body}
	index, err := r.uleb("index")
	if err == nil {
		ev.Index = index
		var desc *symtab.FormatDescriptor
		desc, err = d.lookup(index)
		if err == nil {
			ev.Level = desc.Level
			ev.Location = desc.Location
			ev.Message, ev.Args, err = d.decodeFormat(r, desc, 0)
		}
		if err == nil && r.remaining() > 0 {
			err = malformed("%d trailing bytes after last argument", r.remaining())
		}
	}

	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			de = malformed("%v", err)
		}
		de.Index = ev.Index
		de.Channel = frame.Channel
		de.StreamIdx = frame.Index
		return LogEvent{}, de
	}
	return ev, nil
}

func (d *Decoder) lookup(index uint64) (*symtab.FormatDescriptor, error) {
	desc, ok := d.table.Lookup(index)
	if !ok {
		return nil, unknownIndex(index)
	}
	return desc, nil
}

func (d *Decoder) decodeFormat(r *reader, desc *symtab.FormatDescriptor, depth int) (string, []Arg, error) {
	if desc.Interned() {
		return desc.Format, nil, nil
	}

	args := make([]Arg, 0, len(desc.Args))
	for i, typ := range desc.Args {
		val, err := d.decodeArg(r, typ, depth, fmt.Sprintf("arg %d (%s)", i, typ))
		if err != nil {
			return "", nil, err
		}
		args = append(args, Arg{Type: typ, Value: val})
	}

	var sb strings.Builder
	for _, p := range desc.Pieces {
		if p.IsLiteral() {
			sb.WriteString(p.Literal)
			continue
		}
		sb.WriteString(renderPiece(args[p.Arg], p))
	}
	return sb.String(), args, nil
}

func (d *Decoder) decodeArg(r *reader, typ symtab.ArgType, depth int, what string) (any, error) {
	switch typ.Kind {
	case symtab.KindBool:
		v, err := r.fixedUint(1, what)
		if err != nil {
			return nil, err
		}
		if v > 1 {
			return nil, malformed("%s: invalid bool 0x%02x", what, v)
		}
		return v == 1, nil

	case symtab.KindU8:
		return r.fixedUint(1, what)
	case symtab.KindU16:
		return r.fixedUint(2, what)
	case symtab.KindU32:
		return r.fixedUint(4, what)
	case symtab.KindU64:
		return r.fixedUint(8, what)
	case symtab.KindU128:
		return r.uint128(what)

	case symtab.KindI8:
		return r.fixedInt(1, what)
	case symtab.KindI16:
		return r.fixedInt(2, what)
	case symtab.KindI32:
		return r.fixedInt(4, what)
	case symtab.KindI64:
		return r.fixedInt(8, what)
	case symtab.KindI128:
		return r.int128(what)

	case symtab.KindF32:
		v, err := r.fixedUint(4, what)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(uint32(v)), nil
	case symtab.KindF64:
		v, err := r.fixedUint(8, what)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil

	case symtab.KindUsize:
		return r.uleb(what)
	case symtab.KindIsize:
		return r.sleb(what)

	case symtab.KindChar:
		v, err := r.fixedUint(4, what)
		if err != nil {
			return nil, err
		}
		if v > math.MaxInt32 || !utf8.ValidRune(rune(v)) {
			return nil, malformed("%s: invalid code point 0x%x", what, v)
		}
		return rune(v), nil

	case symtab.KindStr:
		b, err := r.lenPrefixed(what)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, malformed("%s: invalid utf-8", what)
		}
		return string(b), nil

	case symtab.KindIstr:
		idx, err := r.uleb(what)
		if err != nil {
			return nil, err
		}
		desc, err := d.lookup(idx)
		if err != nil {
			return nil, err
		}
		if !desc.Interned() {
			return nil, malformed("%s: index %d is not an interned string", what, idx)
		}
		return desc.Format, nil

	case symtab.KindSlice:
		b, err := r.lenPrefixed(what)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil

	case symtab.KindArray:
		b, err := r.bytes(typ.Len, what)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil

	case symtab.KindDisplay:
		b, err := r.lenPrefixed(what)
		if err != nil {
			return nil, err
		}
		return strings.ToValidUTF8(string(b), string(utf8.RuneError)), nil

	case symtab.KindBitField:
		return r.bitField(typ.Bits, what)

	case symtab.KindFormat:
		return d.nestedFormat(r, depth, what)

	case symtab.KindFormatSlice, symtab.KindFormatArray:
		n := uint64(typ.Len)
		if typ.Kind == symtab.KindFormatSlice {
			var err error
			if n, err = r.uleb(what + " length"); err != nil {
				return nil, err
			}
		}
		// every element takes at least its index byte
		if n > uint64(r.remaining()) {
			return nil, truncated("%s needs %d elements, %d bytes left", what, n, r.remaining())
		}
		elems := make(formatList, 0, n)
		for i := uint64(0); i < n; i++ {
			msg, err := d.nestedFormat(r, depth, fmt.Sprintf("%s element %d", what, i))
			if err != nil {
				return nil, err
			}
			elems = append(elems, msg)
		}
		return elems, nil

	case symtab.KindFormatSeq:
		if depth+1 >= MaxNestingDepth {
			return nil, malformed("%s: nesting deeper than %d", what, MaxNestingDepth)
		}
		var sb strings.Builder
		for {
			idx, err := r.uleb(what)
			if err != nil {
				return nil, err
			}
			if idx == 0 {
				return sb.String(), nil
			}
			desc, err := d.lookup(idx)
			if err != nil {
				return nil, err
			}
			msg, _, err := d.decodeFormat(r, desc, depth+1)
			if err != nil {
				return nil, err
			}
			sb.WriteString(msg)
		}
	}
	return nil, malformed("%s: unsupported type", what)
}

// nestedFormat decodes an index followed by that format's arguments and
// returns the rendered text.
func (d *Decoder) nestedFormat(r *reader, depth int, what string) (string, error) {
	if depth+1 >= MaxNestingDepth {
		return "", malformed("%s: nesting deeper than %d", what, MaxNestingDepth)
	}
	idx, err := r.uleb(what)
	if err != nil {
		return "", err
	}
	desc, err := d.lookup(idx)
	if err != nil {
		return "", err
	}
	msg, _, err := d.decodeFormat(r, desc, depth+1)
	return msg, err
}

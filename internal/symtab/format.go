package symtab

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// maxPositional bounds explicit argument positions such as {3=u8}.
const maxPositional = 255

var errTypeConflict = errors.New("conflicting argument types")

// Piece is one part of a parsed format string: either literal text or a
// placeholder for argument Arg.
type Piece struct {
	Literal string
	Arg     int // argument position; -1 for literal text
	Hint    Hint
	Width   int       // zero padded minimum width, 0 for none
	Bits    *BitRange // bits of the argument shown by a bit field placeholder
}

// IsLiteral reports whether the piece is plain text.
func (p Piece) IsLiteral() bool {
	return p.Arg < 0
}

// placeholder is a parsed {...} before arg types are resolved.
type placeholder struct {
	pos   int // argument position, -1 until numbered
	typ   *ArgType
	hint  Hint
	width int
}

// parseFormat splits a format string into pieces. Placeholders without a
// position take the next implicit one; several may name the same argument.
//
//	{}          untyped
//	{=u8}       typed
//	{=u8:x}     typed with hint
//	{=u8:#04x}  hint with zero padded width
//	{:x}        hint only
//	{0=u8}      positional
//	{0=0..4}    bits 0 to 3 of argument 0
//	{{ and }}   literal braces
func parseFormat(format string) ([]Piece, []placeholder, error) {
	var pieces []Piece
	var holders []placeholder
	var lit strings.Builder
	next := 0

	flushLit := func() {
		if lit.Len() > 0 {
			pieces = append(pieces, Piece{Literal: lit.String(), Arg: -1})
			lit.Reset()
		}
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		switch c {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(format[i+1:], '}')
			if end < 0 {
				return nil, nil, fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			body := format[i+1 : i+1+end]
			ph, err := parsePlaceholder(body)
			if err != nil {
				return nil, nil, fmt.Errorf("placeholder {%s} at offset %d: %w", body, i, err)
			}
			if ph.pos < 0 {
				ph.pos = next
				next++
			}
			flushLit()
			piece := Piece{Arg: ph.pos, Hint: ph.hint, Width: ph.width}
			if ph.typ != nil && ph.typ.Kind == KindBitField {
				bits := ph.typ.Bits
				piece.Bits = &bits
			}
			pieces = append(pieces, piece)
			holders = append(holders, ph)
			i += end + 1

		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, nil, fmt.Errorf("unmatched '}' at offset %d", i)

		default:
			lit.WriteByte(c)
		}
	}
	flushLit()
	return pieces, holders, nil
}

func parsePlaceholder(body string) (placeholder, error) {
	ph := placeholder{pos: -1}
	if strings.ContainsRune(body, '{') {
		return ph, fmt.Errorf("nested '{'")
	}

	digits := 0
	for digits < len(body) && body[digits] >= '0' && body[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		pos, err := strconv.Atoi(body[:digits])
		if err != nil || pos > maxPositional {
			return ph, fmt.Errorf("argument position %q out of range", body[:digits])
		}
		ph.pos = pos
		body = body[digits:]
	}

	typeName, hintName, _ := strings.Cut(body, ":")
	switch {
	case typeName == "":
	case strings.HasPrefix(typeName, "="):
		typ, err := ParseArgType(typeName[1:])
		if err != nil {
			return ph, err
		}
		ph.typ = &typ
	default:
		return ph, fmt.Errorf("expected '=' before type %q", typeName)
	}

	if hintName != "" {
		ph.hint, ph.width = parseHint(hintName)
	}
	return ph, nil
}

// resolveParams returns the type of every argument position the holders
// use. A nil entry is an argument only untyped placeholders refer to. Bit
// field placeholders of one argument merge into the range covering them all.
func resolveParams(holders []placeholder) ([]*ArgType, error) {
	n := 0
	for _, ph := range holders {
		n = max(n, ph.pos+1)
	}
	params := make([]*ArgType, n)
	used := make([]bool, n)
	for i, ph := range holders {
		used[ph.pos] = true
		if ph.typ == nil {
			continue
		}
		cur := params[ph.pos]
		if cur == nil {
			typ := *ph.typ
			params[ph.pos] = &typ
			continue
		}
		merged, ok := mergeArgTypes(*cur, *ph.typ)
		if !ok {
			return nil, fmt.Errorf("%w: placeholder %d uses argument %d as %s, another as %s", errTypeConflict, i, ph.pos, ph.typ, cur)
		}
		*cur = merged
	}
	for pos, ok := range used {
		if !ok {
			return nil, fmt.Errorf("argument %d is never used", pos)
		}
	}
	return params, nil
}

func mergeArgTypes(a, b ArgType) (ArgType, bool) {
	if a == b {
		return a, true
	}
	if a.Kind != KindBitField || b.Kind != KindBitField {
		return ArgType{}, false
	}
	a.Bits.Start = min(a.Bits.Start, b.Bits.Start)
	a.Bits.End = max(a.Bits.End, b.Bits.End)
	return a, true
}

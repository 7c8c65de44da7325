package decoder

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"defmtitm/internal/symtab"
)

// formatList holds the rendered elements of a [?] or [?;N] argument.
type formatList []string

// renderPiece renders the argument a placeholder refers to, narrowed to the
// placeholder's bit range if it has one.
func renderPiece(arg Arg, p symtab.Piece) string {
	if p.Bits != nil {
		arg = Arg{Type: symtab.ArgType{Kind: symtab.KindU128}, Value: extractBits(arg.Value, *p.Bits)}
	}
	return render(arg, p.Hint, p.Width)
}

func extractBits(v any, bits symtab.BitRange) any {
	width := bits.End - bits.Start
	switch v := v.(type) {
	case uint64:
		v >>= bits.Start
		if width < 64 {
			v &= (1 << width) - 1
		}
		return v
	case *big.Int:
		mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), width), big.NewInt(1))
		out := new(big.Int).Rsh(v, bits.Start)
		out.And(out, mask)
		if out.IsUint64() {
			return out.Uint64()
		}
		return out
	}
	return v
}

func render(arg Arg, hint symtab.Hint, width int) string {
	switch v := arg.Value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case uint64:
		return zeroPad(renderUint(v, hint), width)
	case int64:
		if isRadixHint(hint) {
			u := uint64(v)
			if v < 0 {
				// two's complement at the argument width
				if bits := typeBits(arg.Type.Kind); bits < 64 {
					u &= (1 << bits) - 1
				}
			}
			return zeroPad(renderUint(u, hint), width)
		}
		if v < 0 || !isTimeHint(hint) {
			return zeroPad(strconv.FormatInt(v, 10), width)
		}
		return zeroPad(renderUint(uint64(v), hint), width)
	case *big.Int:
		if v.Sign() < 0 && isRadixHint(hint) {
			v = new(big.Int).Add(v, two128)
		}
		return zeroPad(renderBig(v, hint), width)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case rune:
		if hint == symtab.HintDebug {
			return strconv.QuoteRune(v)
		}
		return string(v)
	case string:
		if hint == symtab.HintDebug {
			return strconv.Quote(v)
		}
		return v
	case []byte:
		return renderBytes(v, hint, width)
	case formatList:
		return "[" + strings.Join(v, ", ") + "]"
	}
	return fmt.Sprint(arg.Value)
}

func isRadixHint(hint symtab.Hint) bool {
	switch hint {
	case symtab.HintHex, symtab.HintUpperHex, symtab.HintHexAlt, symtab.HintUpperHexAlt,
		symtab.HintBin, symtab.HintBinAlt, symtab.HintOctal:
		return true
	}
	return false
}

func isTimeHint(hint symtab.Hint) bool {
	return hint >= symtab.HintMicros && hint <= symtab.HintISO8601Sec
}

// zeroPad widens a rendered number to width with zeros placed after any
// sign and radix prefix.
func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	prefix := ""
	if strings.HasPrefix(s, "-") {
		prefix, s = "-", s[1:]
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0b") {
		prefix, s = prefix+s[:2], s[2:]
	}
	return prefix + strings.Repeat("0", width-len(prefix)-len(s)) + s
}

// formatClock renders ticks as [days:]hh:mm:ss with digits fractional digits.
func formatClock(ticks, perSecond uint64, digits int) string {
	secs, frac := ticks/perSecond, ticks%perSecond
	days, secs := secs/86400, secs%86400
	s := fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
	if days > 0 {
		s = strconv.FormatUint(days, 10) + ":" + s
	}
	if digits > 0 {
		s += fmt.Sprintf(".%0*d", digits, frac)
	}
	return s
}

func typeBits(k symtab.Kind) uint {
	switch k {
	case symtab.KindI8:
		return 8
	case symtab.KindI16:
		return 16
	case symtab.KindI32:
		return 32
	}
	return 64
}

func renderUint(v uint64, hint symtab.Hint) string {
	switch hint {
	case symtab.HintHex:
		return strconv.FormatUint(v, 16)
	case symtab.HintUpperHex:
		return strings.ToUpper(strconv.FormatUint(v, 16))
	case symtab.HintHexAlt:
		return "0x" + strconv.FormatUint(v, 16)
	case symtab.HintUpperHexAlt:
		return "0x" + strings.ToUpper(strconv.FormatUint(v, 16))
	case symtab.HintBin:
		return strconv.FormatUint(v, 2)
	case symtab.HintBinAlt:
		return "0b" + strconv.FormatUint(v, 2)
	case symtab.HintOctal:
		return strconv.FormatUint(v, 8)
	case symtab.HintMicros:
		return fmt.Sprintf("%d.%06d", v/1_000_000, v%1_000_000)
	case symtab.HintMillis:
		return fmt.Sprintf("%d.%03d", v/1_000, v%1_000)
	case symtab.HintTimeMicros:
		return formatClock(v, 1_000_000, 6)
	case symtab.HintTimeMillis:
		return formatClock(v, 1_000, 3)
	case symtab.HintTimeSeconds:
		return formatClock(v, 1, 0)
	case symtab.HintISO8601Milli:
		return time.UnixMilli(int64(v)).UTC().Format("2006-01-02T15:04:05.000Z")
	case symtab.HintISO8601Sec:
		return time.Unix(int64(v), 0).UTC().Format("2006-01-02T15:04:05Z")
	}
	return strconv.FormatUint(v, 10)
}

func renderBig(v *big.Int, hint symtab.Hint) string {
	switch hint {
	case symtab.HintHex:
		return v.Text(16)
	case symtab.HintUpperHex:
		return strings.ToUpper(v.Text(16))
	case symtab.HintHexAlt:
		return "0x" + v.Text(16)
	case symtab.HintUpperHexAlt:
		return "0x" + strings.ToUpper(v.Text(16))
	case symtab.HintBin:
		return v.Text(2)
	case symtab.HintBinAlt:
		return "0b" + v.Text(2)
	case symtab.HintOctal:
		return v.Text(8)
	}
	return v.Text(10)
}

func renderBytes(b []byte, hint symtab.Hint, width int) string {
	if hint == symtab.HintASCII {
		var sb strings.Builder
		sb.WriteString(`b"`)
		for _, c := range b {
			switch {
			case c == '"' || c == '\\':
				sb.WriteByte('\\')
				sb.WriteByte(c)
			case c >= 0x20 && c < 0x7F:
				sb.WriteByte(c)
			default:
				fmt.Fprintf(&sb, `\x%02x`, c)
			}
		}
		sb.WriteByte('"')
		return sb.String()
	}

	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = zeroPad(renderUint(uint64(c), hint), width)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

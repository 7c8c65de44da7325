package printers

import (
	"encoding/json"
	"strconv"
	"strings"

	"defmtitm/internal/decoder"
)

// HostPrefix marks lines produced by the host tool rather than the target.
const HostPrefix = "(HOST) "

// Formatter renders a log event as text without the final newline.
type Formatter interface {
	Format(ev decoder.LogEvent) string
}

// NewFormatter returns the JSON formatter when asJSON is set, otherwise the
// text formatter.
func NewFormatter(asJSON bool) Formatter {
	if asJSON {
		return JSONFormatter{}
	}
	return LineFormatter{}
}

// LocationPrefix starts the line LineFormatter adds below an event whose
// source location is known.
const LocationPrefix = "└─ "

// LineFormatter renders "[<ticks> ]<LEVEL> <message>". Events without a
// level omit the tag. A known source location follows on a second line as
// "└─ module @ file:line".
type LineFormatter struct{}

func (LineFormatter) Format(ev decoder.LogEvent) string {
	var sb strings.Builder
	if ev.Timestamp != nil {
		sb.WriteString(strconv.FormatUint(*ev.Timestamp, 10))
		sb.WriteByte(' ')
	}
	if lvl := ev.Level.String(); lvl != "" {
		sb.WriteString(lvl)
		sb.WriteByte(' ')
	}
	sb.WriteString(ev.Message)
	if ev.Location != nil {
		sb.WriteByte('\n')
		sb.WriteString(LocationPrefix)
		sb.WriteString(ev.Location.String())
	}
	return sb.String()
}

// JSONFormatter renders one JSON object per event.
type JSONFormatter struct{}

type jsonEvent struct {
	Ticks   *uint64 `json:"ticks,omitempty"`
	Level   string  `json:"level,omitempty"`
	Message string  `json:"message"`
	Index   uint64  `json:"index"`
	Channel uint8   `json:"channel"`
	File    string  `json:"file,omitempty"`
	Line    uint64  `json:"line,omitempty"`
	Module  string  `json:"module,omitempty"`
}

func (JSONFormatter) Format(ev decoder.LogEvent) string {
	je := jsonEvent{
		Ticks:   ev.Timestamp,
		Level:   strings.ToLower(ev.Level.String()),
		Message: ev.Message,
		Index:   ev.Index,
		Channel: ev.Channel,
	}
	if loc := ev.Location; loc != nil {
		je.File, je.Line, je.Module = loc.File, loc.Line, loc.Module
	}
	b, err := json.Marshal(je)
	if err != nil {
		// only reachable with invalid utf-8, which the decoder rejects
		return HostPrefix + err.Error()
	}
	return string(b)
}

// FormatDiagnostic renders a host diagnostic line.
func FormatDiagnostic(msg string) string {
	return HostPrefix + msg
}

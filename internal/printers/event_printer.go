package printers

import (
	"fmt"
	"io"
	"strings"

	"defmtitm/internal/decoder"
	"defmtitm/internal/symtab"
)

// EventPrinter writes decoded log events and host diagnostics.
type EventPrinter struct {
	ItemPrinter
	formatter    Formatter
	collectStats bool
	levelCounts  map[symtab.Level]int
	diagCount    int
}

// NewEventPrinter creates an event printer. A nil formatter selects the text
// formatter.
func NewEventPrinter(writer io.Writer, formatter Formatter) *EventPrinter {
	if formatter == nil {
		formatter = LineFormatter{}
	}
	return &EventPrinter{
		ItemPrinter: *NewItemPrinter(writer),
		formatter:   formatter,
		levelCounts: make(map[symtab.Level]int),
	}
}

// PrintEvent writes one formatted event line.
func (p *EventPrinter) PrintEvent(ev decoder.LogEvent) {
	if p.collectStats {
		p.levelCounts[ev.Level]++
	}
	p.ItemPrintLine(p.formatter.Format(ev) + "\n")
}

// PrintDiagnostic writes a "(HOST) " line.
func (p *EventPrinter) PrintDiagnostic(format string, args ...any) {
	if p.collectStats {
		p.diagCount++
	}
	p.ItemPrintLine(FormatDiagnostic(fmt.Sprintf(format, args...)) + "\n")
}

// SetCollectStats turns on statistics collection.
func (p *EventPrinter) SetCollectStats() { p.collectStats = true }

// PrintStats outputs per level event counts.
func (p *EventPrinter) PrintStats() {
	var sb strings.Builder

	sb.WriteString(HostPrefix + "Log events processed:-\n")
	for lvl := symtab.LevelNone; lvl <= symtab.LevelError; lvl++ {
		name := lvl.String()
		if name == "" {
			name = "PRINT"
		}
		sb.WriteString(fmt.Sprintf("%s%s : %d\n", HostPrefix, name, p.levelCounts[lvl]))
	}
	sb.WriteString(fmt.Sprintf("%sDiagnostics : %d\n", HostPrefix, p.diagCount))

	p.ItemPrintLine(sb.String())
}

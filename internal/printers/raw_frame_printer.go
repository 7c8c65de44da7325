package printers

import (
	"fmt"
	"io"
	"strings"

	"defmtitm/internal/demux"
)

// RawFramePrinter acts as a sink for reassembled frames and channel resets,
// printing their content before decode.
type RawFramePrinter struct {
	ItemPrinter
}

// NewRawFramePrinter creates a new printer for RawFrame elements.
func NewRawFramePrinter(writer io.Writer) *RawFramePrinter {
	return &RawFramePrinter{
		ItemPrinter: *NewItemPrinter(writer),
	}
}

// PrintFrame writes the frame header and body bytes, 16 per line.
func (p *RawFramePrinter) PrintFrame(frame demux.RawFrame) {
	if p.IsMuted() {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Frame Data; Index%7d; ", frame.Index))
	sb.WriteString(fmt.Sprintf("CH[0x%02x]; ", frame.Channel))
	if frame.Timestamp != nil {
		sb.WriteString(fmt.Sprintf("TS %d; ", *frame.Timestamp))
	}

	lineBytes := 0
	for _, b := range frame.Body {
		if lineBytes == 16 {
			sb.WriteString("\n")
			lineBytes = 0
		}
		sb.WriteString(fmt.Sprintf("%02x ", b))
		lineBytes++
	}
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

// PrintReset writes a channel reset notice.
func (p *RawFramePrinter) PrintReset(r *demux.Reset) {
	if p.IsMuted() || r == nil {
		return
	}
	p.ItemPrintLine(fmt.Sprintf("Frame Reset; Index%7d; %s\n", r.Index, r.String()))
}

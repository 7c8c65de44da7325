package printers

import (
	"errors"
	"fmt"
	"io"
	"os"

	"defmtitm/internal/itm"
)

// PktPrinter lists ITM packets one per line.
type PktPrinter struct {
	out io.Writer
}

func NewPktPrinter() *PktPrinter {
	return &PktPrinter{
		out: os.Stdout, // Default to stdout
	}
}

// SetOutput allows redirecting the printer output
func (p *PktPrinter) SetOutput(w io.Writer) {
	if w != nil {
		p.out = w
	}
}

// PrintPacket writes "Idx:<N>; <packet string>".
func (p *PktPrinter) PrintPacket(pkt itm.Packet) {
	fmt.Fprintf(p.out, "Idx:%d; %s\n", pkt.Index, pkt.String())
}

// PrintError writes a framing or stream error in the packet listing.
func (p *PktPrinter) PrintError(err error) {
	var fe *itm.FramingError
	if errors.As(err, &fe) {
		fmt.Fprintf(p.out, "Idx:%d; %s\n", fe.Index, fe.Error())
		return
	}
	fmt.Fprintf(p.out, "%s\n", err)
}

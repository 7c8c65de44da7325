package printers

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ItemPrinter is the base of the line printers: it writes whole lines to an
// output and optionally mirrors them to a logger.
type ItemPrinter struct {
	writer io.Writer
	log    logrus.FieldLogger
	muted  bool
}

// NewItemPrinter constructs an ItemPrinter using the given io.Writer.
func NewItemPrinter(writer io.Writer) *ItemPrinter {
	return &ItemPrinter{
		writer: writer,
	}
}

// SetMessageLogger sets the optional logger that receives every printed line
// at debug level.
func (p *ItemPrinter) SetMessageLogger(log logrus.FieldLogger) {
	p.log = log
}

// ItemPrintLine writes the given message to the writer in a single Write
// call and optionally logs it without the line terminator.
func (p *ItemPrinter) ItemPrintLine(msg string) {
	if p.muted {
		return
	}
	if p.writer != nil {
		fmt.Fprint(p.writer, msg)
	}
	if p.log != nil {
		p.log.Debug(strings.TrimSuffix(msg, "\n"))
	}
}

// SetMute sets the printer to mute (avoids output).
func (p *ItemPrinter) SetMute(mute bool) { p.muted = mute }

// IsMuted returns true if the printer is muted.
func (p *ItemPrinter) IsMuted() bool { return p.muted }

// SyncWriter serialises writes from several printers onto one output so
// lines from concurrent sessions never interleave.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

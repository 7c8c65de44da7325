package pipeline

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"defmtitm/internal/common"
	"defmtitm/internal/decoder"
	"defmtitm/internal/demux"
	"defmtitm/internal/itm"
	"defmtitm/internal/printers"
	"defmtitm/internal/symtab"
)

// Config selects the per session stream settings.
type Config struct {
	ITM        *itm.Config
	Demux      *demux.Config
	JSON       bool // JSON event lines instead of text
	DumpFrames bool // print each raw frame before decoding
	PrintStats bool // print per level event counts when the session closes
}

// NewConfig creates the default session configuration.
func NewConfig() *Config {
	return &Config{
		ITM:   itm.NewConfig(),
		Demux: demux.NewConfig(),
	}
}

// Stats is a snapshot of a session's counters.
type Stats struct {
	BytesIn        uint64
	Packets        uint64
	Frames         uint64
	Events         uint64
	Resyncs        uint64
	BytesDiscarded uint64
	Resets         uint64
	BytesDropped   uint64
	UnknownIndex   uint64
	Truncated      uint64
	Malformed      uint64
}

type counters struct {
	bytesIn        atomic.Uint64
	packets        atomic.Uint64
	frames         atomic.Uint64
	events         atomic.Uint64
	resyncs        atomic.Uint64
	bytesDiscarded atomic.Uint64
	resets         atomic.Uint64
	bytesDropped   atomic.Uint64
	unknownIndex   atomic.Uint64
	truncated      atomic.Uint64
	malformed      atomic.Uint64
}

// Session decodes one byte stream: framer, demuxer, decoder and printer in
// a single synchronous chain. A session is fed from one goroutine; Stats may
// be read from any.
type Session struct {
	ID string

	log     logrus.FieldLogger
	framer  *itm.Framer
	demux   *demux.Demuxer
	decoder *decoder.Decoder
	printer *printers.EventPrinter
	frames  *printers.RawFramePrinter
	summary bool

	stats counters
}

// NewSession builds the decode chain for one stream. Output lines go to out,
// which must accept whole line writes from concurrent sessions (see
// printers.SyncWriter).
func NewSession(cfg *Config, table *symtab.Table, out io.Writer, log logrus.FieldLogger) *Session {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = common.NewNoOpLogger()
	}

	id := uuid.NewString()
	s := &Session{
		ID:      id,
		log:     log.WithField("session", id),
		framer:  itm.NewFramer(cfg.ITM),
		demux:   demux.NewDemuxer(cfg.Demux),
		decoder: decoder.New(table),
		printer: printers.NewEventPrinter(out, printers.NewFormatter(cfg.JSON)),
	}
	s.printer.SetMessageLogger(s.log)
	if cfg.PrintStats {
		s.printer.SetCollectStats()
		s.summary = true
	}
	if cfg.DumpFrames {
		s.frames = printers.NewRawFramePrinter(out)
	}
	return s
}

// Write feeds stream bytes and emits every line they complete. It never
// fails; stream problems are reported as diagnostics.
func (s *Session) Write(p []byte) (int, error) {
	s.stats.bytesIn.Add(uint64(len(p)))
	s.framer.Write(p)
	s.drain()
	return len(p), nil
}

// Flush reports anything left incomplete at the end of the stream.
func (s *Session) Flush() {
	if err := s.framer.Flush(); err != nil {
		var fe *itm.FramingError
		if errors.As(err, &fe) {
			s.onFramingError(fe)
		}
	}
}

// Close flushes the session and prints the summary if enabled.
func (s *Session) Close() error {
	s.Flush()
	if s.summary {
		s.printer.PrintStats()
	}
	s.log.WithFields(logrus.Fields{
		"bytes":  s.stats.bytesIn.Load(),
		"events": s.stats.events.Load(),
	}).Info("session closed")
	return nil
}

// SetTable replaces the symbol table. Partial frames built against the old
// table are dropped.
func (s *Session) SetTable(table *symtab.Table) {
	s.decoder = decoder.New(table)
	out := s.demux.Reset(demux.CauseTableChange, s.framer.Index())
	s.onReset(out.Reset)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		BytesIn:        s.stats.bytesIn.Load(),
		Packets:        s.stats.packets.Load(),
		Frames:         s.stats.frames.Load(),
		Events:         s.stats.events.Load(),
		Resyncs:        s.stats.resyncs.Load(),
		BytesDiscarded: s.stats.bytesDiscarded.Load(),
		Resets:         s.stats.resets.Load(),
		BytesDropped:   s.stats.bytesDropped.Load(),
		UnknownIndex:   s.stats.unknownIndex.Load(),
		Truncated:      s.stats.truncated.Load(),
		Malformed:      s.stats.malformed.Load(),
	}
}

func (s *Session) drain() {
	for {
		pkt, err := s.framer.Next()
		if err != nil {
			if errors.Is(err, itm.ErrNeedMoreData) {
				return
			}
			var fe *itm.FramingError
			if !errors.As(err, &fe) {
				common.LogError(s.log, err)
				return
			}
			s.onFramingError(fe)
			continue
		}

		s.stats.packets.Add(1)
		out := s.demux.Feed(pkt)
		for _, frame := range out.Frames {
			s.onFrame(frame)
		}
		s.onReset(out.Reset)
	}
}

func (s *Session) onFramingError(fe *itm.FramingError) {
	s.stats.resyncs.Add(1)
	s.stats.bytesDiscarded.Add(uint64(fe.Discarded))
	common.LogError(s.log, fe)

	msg := "resync: %d bytes discarded at stream index %d"
	if fe.Reason != "" {
		s.printer.PrintDiagnostic(msg+" (%s)", fe.Discarded, fe.Index, fe.Reason)
	} else {
		s.printer.PrintDiagnostic(msg, fe.Discarded, fe.Index)
	}

	out := s.demux.Reset(demux.CauseFraming, fe.Index)
	s.onReset(out.Reset)
}

// onReset reports a demuxer reset. Resets that dropped nothing are only
// reported for overflows, which always mean lost target data.
func (s *Session) onReset(r *demux.Reset) {
	if r == nil || (r.Dropped == 0 && r.Cause != demux.CauseOverflow) {
		return
	}
	s.stats.resets.Add(1)
	s.stats.bytesDropped.Add(uint64(r.Dropped))
	common.LogError(s.log.WithFields(logrus.Fields{
		"cause":   r.Cause.String(),
		"dropped": r.Dropped,
	}), r.Err())
	s.printer.PrintDiagnostic("%s", r.String())
	if s.frames != nil {
		s.frames.PrintReset(r)
	}
}

func (s *Session) onFrame(frame demux.RawFrame) {
	s.stats.frames.Add(1)
	if s.frames != nil {
		s.frames.PrintFrame(frame)
	}

	ev, err := s.decoder.Decode(frame)
	if err != nil {
		s.onDecodeError(err)
		return
	}
	s.stats.events.Add(1)
	s.printer.PrintEvent(ev)
}

func (s *Session) onDecodeError(err error) {
	var kind string
	switch {
	case errors.Is(err, decoder.ErrUnknownIndex):
		s.stats.unknownIndex.Add(1)
		kind = "unknown index"
	case errors.Is(err, decoder.ErrTruncated):
		s.stats.truncated.Add(1)
		kind = "truncated"
	default:
		s.stats.malformed.Add(1)
		kind = "malformed"
	}
	common.LogError(s.log, err)

	var de *decoder.DecodeError
	if errors.As(err, &de) {
		s.printer.PrintDiagnostic("%s frame skipped on channel %d: %s", kind, de.Channel, de.Reason)
		return
	}
	s.printer.PrintDiagnostic("%s frame skipped: %v", kind, err)
}

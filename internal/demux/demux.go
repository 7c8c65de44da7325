package demux

import (
	"encoding/binary"
	"fmt"

	"defmtitm/internal/common"
	"defmtitm/internal/itm"
	"defmtitm/internal/ocsd"
)

const (
	// DefaultMaxFrameSize bounds the body length accepted from a length prefix.
	DefaultMaxFrameSize = 4096

	// AllChannels enables frame assembly on every stimulus channel.
	AllChannels uint32 = 0xFFFFFFFF

	maxPrefixLen = 5 // uleb128 bytes needed for a 32 bit length
)

// Cause identifies why channel buffers were discarded.
type Cause int

const (
	CauseSync        Cause = iota // sync packet seen mid stream
	CauseOverflow                 // target dropped packets
	CauseFraming                  // framer lost packet alignment
	CauseOversize                 // corrupt length prefix on one channel
	CauseTableChange              // symbol table replaced
)

func (c Cause) String() string {
	switch c {
	case CauseSync:
		return "sync"
	case CauseOverflow:
		return "overflow"
	case CauseFraming:
		return "framing error"
	case CauseOversize:
		return "oversize frame"
	case CauseTableChange:
		return "table change"
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// Reset reports partial frame data dropped from the channel buffers.
type Reset struct {
	Cause   Cause
	Channel uint8         // ocsd.BadChannel when every channel was cleared
	Index   ocsd.TrcIndex // stream index of the packet that caused the reset
	Dropped int           // buffered bytes discarded
}

func (r *Reset) String() string {
	if r.Channel == ocsd.BadChannel {
		return fmt.Sprintf("stream reset (%s); %d partial frame bytes dropped", r.Cause, r.Dropped)
	}
	return fmt.Sprintf("channel %d reset (%s); %d partial frame bytes dropped", r.Channel, r.Cause, r.Dropped)
}

// Err returns the reset as a library error object for logging.
func (r *Reset) Err() *common.Error {
	code := ocsd.ErrStreamReset
	if r.Cause == CauseOversize {
		code = ocsd.ErrFrameOversize
	}
	return common.NewErrorWithIdxChanMsg(ocsd.ErrSevWarn, code, r.Index, r.Channel, r.String())
}

// RawFrame is one complete frame body taken from a channel buffer.
type RawFrame struct {
	Channel   uint8
	Index     ocsd.TrcIndex // stream index of the packet that completed the frame
	Timestamp *uint64       // accumulated ticks, set on the first frame after a timestamp
	Body      []byte        // uleb128 index followed by the encoded arguments
}

// Output is the result of feeding one packet.
type Output struct {
	Frames []RawFrame
	Reset  *Reset
}

// Config holds the demuxer settings.
type Config struct {
	Channels     uint32 // bit n enables channel n
	MaxFrameSize int
	Prescale     uint32 // local timestamp prescaler applied to deltas
}

// NewConfig creates a default configuration: all channels, 4KiB frames,
// unscaled timestamps.
func NewConfig() *Config {
	return &Config{
		Channels:     AllChannels,
		MaxFrameSize: DefaultMaxFrameSize,
		Prescale:     1,
	}
}

// Demuxer reassembles length prefixed frames from the instrumentation
// packets of each stimulus channel.
type Demuxer struct {
	// configuration
	chanEnable   [ocsd.NumChannels]bool
	maxFrameSize int
	prescale     uint64

	// state params
	chanBufs  [ocsd.NumChannels][]byte
	ticks     uint64
	tsPending bool
}

// NewDemuxer creates a demuxer. A nil cfg selects the defaults.
func NewDemuxer(cfg *Config) *Demuxer {
	if cfg == nil {
		cfg = NewConfig()
	}
	d := &Demuxer{
		maxFrameSize: cfg.MaxFrameSize,
		prescale:     uint64(cfg.Prescale),
	}
	if d.maxFrameSize <= 0 {
		d.maxFrameSize = DefaultMaxFrameSize
	}
	if d.prescale == 0 {
		d.prescale = 1
	}
	for ch := range d.chanEnable {
		d.chanEnable[ch] = cfg.Channels&(1<<uint(ch)) != 0
	}
	return d
}

// OutputFilterChannels enables or disables frame assembly on the listed
// channels. Disabling a channel drops its buffered bytes.
func (d *Demuxer) OutputFilterChannels(channels []uint8, enable bool) error {
	for _, ch := range channels {
		if !ocsd.IsValidChannel(ch) {
			return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, fmt.Sprintf("invalid stimulus channel %d", ch))
		}
	}
	for _, ch := range channels {
		d.chanEnable[ch] = enable
		if !enable {
			d.chanBufs[ch] = d.chanBufs[ch][:0]
		}
	}
	return nil
}

// OutputFilterAllChannels enables or disables every channel.
func (d *Demuxer) OutputFilterAllChannels(enable bool) {
	for ch := range d.chanEnable {
		d.chanEnable[ch] = enable
		if !enable {
			d.chanBufs[ch] = d.chanBufs[ch][:0]
		}
	}
}

// ChannelEnabled reports whether frames are assembled on ch.
func (d *Demuxer) ChannelEnabled(ch uint8) bool {
	return ocsd.IsValidChannel(ch) && d.chanEnable[ch]
}

// Buffered returns the partial frame bytes held for ch.
func (d *Demuxer) Buffered(ch uint8) int {
	if !ocsd.IsValidChannel(ch) {
		return 0
	}
	return len(d.chanBufs[ch])
}

// Ticks returns the accumulated local timestamp count.
func (d *Demuxer) Ticks() uint64 {
	return d.ticks
}

// Feed processes one packet and returns any frames it completed.
func (d *Demuxer) Feed(pkt itm.Packet) Output {
	var out Output

	switch pkt.Type {
	case itm.PktSWIT:
		ch := pkt.Channel()
		if !d.chanEnable[ch] {
			break
		}
		d.chanBufs[ch] = append(d.chanBufs[ch], pkt.Payload()...)
		out.Frames, out.Reset = d.extractFrames(ch, pkt.Index)

	case itm.PktAsync:
		// a sync with nothing in flight is routine and not reported
		if r := d.clearAll(CauseSync, pkt.Index); r.Dropped > 0 {
			out.Reset = r
		}

	case itm.PktOverflow:
		out.Reset = d.clearAll(CauseOverflow, pkt.Index)
		d.clearTicks()

	case itm.PktTSLocal:
		d.ticks += uint64(pkt.Value) * d.prescale
		d.tsPending = true

	default:
		// hardware source, global timestamp and extension packets carry no
		// log data
	}
	return out
}

// Reset clears every channel buffer on request, e.g. after a framing error
// or when the symbol table is replaced. Framing resets also clear the
// timestamp count.
func (d *Demuxer) Reset(cause Cause, idx ocsd.TrcIndex) Output {
	r := d.clearAll(cause, idx)
	if cause == CauseFraming || cause == CauseOverflow {
		d.clearTicks()
	}
	return Output{Reset: r}
}

func (d *Demuxer) clearTicks() {
	d.ticks = 0
	d.tsPending = false
}

func (d *Demuxer) clearAll(cause Cause, idx ocsd.TrcIndex) *Reset {
	r := &Reset{Cause: cause, Channel: ocsd.BadChannel, Index: idx}
	for ch := range d.chanBufs {
		r.Dropped += len(d.chanBufs[ch])
		d.chanBufs[ch] = d.chanBufs[ch][:0]
	}
	return r
}

// extractFrames slices every complete frame from the front of the channel
// buffer. A corrupt length prefix clears the channel and stops extraction.
func (d *Demuxer) extractFrames(ch uint8, idx ocsd.TrcIndex) ([]RawFrame, *Reset) {
	var frames []RawFrame
	buf := d.chanBufs[ch]
	for len(buf) > 0 {
		length, n := binary.Uvarint(buf)
		if n == 0 && len(buf) < maxPrefixLen {
			break // prefix incomplete
		}
		if n <= 0 || n > maxPrefixLen || length > uint64(d.maxFrameSize) {
			r := &Reset{Cause: CauseOversize, Channel: ch, Index: idx, Dropped: len(buf)}
			d.chanBufs[ch] = d.chanBufs[ch][:0]
			return frames, r
		}
		end := n + int(length)
		if len(buf) < end {
			break
		}

		frame := RawFrame{
			Channel: ch,
			Index:   idx,
			Body:    append([]byte(nil), buf[n:end]...),
		}
		if d.tsPending {
			ts := d.ticks
			frame.Timestamp = &ts
			d.tsPending = false
		}
		frames = append(frames, frame)
		buf = buf[end:]
	}

	// keep the unconsumed tail at the front of the channel buffer
	d.chanBufs[ch] = append(d.chanBufs[ch][:0], buf...)
	return frames, nil
}

package itm

import (
	"bytes"
	"fmt"

	"defmtitm/internal/common"
	"defmtitm/internal/ocsd"
)

const (
	asyncMinZeros    = 5
	asyncEnd         = 0x80
	compactThreshold = 4096
)

// ErrNeedMoreData is returned by Next when the buffered bytes end inside a
// packet. The cursor is left on the packet header.
var ErrNeedMoreData = common.NewError(ocsd.ErrSevInfo, ocsd.ErrNeedMoreData)

// FramingError reports bytes dropped while the framer searched for a sync
// marker. It is recoverable: the framer is already resynchronising when it
// is returned.
type FramingError struct {
	Code      ocsd.Err      // cause of the loss of sync
	Index     ocsd.TrcIndex // stream offset of the first discarded byte
	Discarded int
	Reason    string
}

func (e *FramingError) Error() string {
	return e.libError().Error()
}

// Unwrap exposes the library error object.
func (e *FramingError) Unwrap() error {
	return e.libError()
}

func (e *FramingError) libError() *common.Error {
	msg := fmt.Sprintf("%d bytes discarded", e.Discarded)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return common.NewErrorWithIdxMsg(ocsd.ErrSevWarn, e.Code, e.Index, msg)
}

// Framer converts an incoming byte stream into ITM packets.
// Bytes are appended with Write and packets pulled with Next; the framer
// never blocks and keeps no partial packet state between calls.
type Framer struct {
	cfg *Config

	buf  []byte
	pos  int           // cursor into buf
	base ocsd.TrcIndex // stream index of buf[0]

	bStreamSync bool

	discarded  int
	discardIdx ocsd.TrcIndex
	cause      ocsd.Err
	reason     string

	// zeros dropped from the front of an unterminated zero run
	zeroPad    int
	zeroPadIdx ocsd.TrcIndex

	// trailing zero bytes of the last packet, which a sync marker may
	// have started in
	trailZeros int
}

// NewFramer creates a new ITM packet framer.
func NewFramer(cfg *Config) *Framer {
	if cfg == nil {
		cfg = NewConfig()
	}
	f := &Framer{cfg: cfg}
	f.Reset()
	return f
}

// Reset drops all buffered bytes and returns to the initial sync state.
func (f *Framer) Reset() {
	f.base += ocsd.TrcIndex(len(f.buf))
	f.buf = f.buf[:0]
	f.pos = 0
	f.discarded = 0
	f.zeroPad = 0
	f.trailZeros = 0
	f.setProcUnsynced(ocsd.ErrResync, "waiting for sync")
	f.bStreamSync = f.cfg.AssumeSynced
}

// Write appends stream bytes. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.compact()
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Index returns the stream offset of the cursor.
func (f *Framer) Index() ocsd.TrcIndex {
	return f.base + ocsd.TrcIndex(f.pos)
}

// Buffered returns the number of bytes not yet consumed.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.pos
}

// Synced reports whether the framer is aligned to packet boundaries.
func (f *Framer) Synced() bool {
	return f.bStreamSync
}

// Next returns the next complete packet. It returns ErrNeedMoreData when the
// buffer is exhausted and a *FramingError when bytes had to be dropped.
func (f *Framer) Next() (Packet, error) {
	for {
		if !f.bStreamSync {
			if err := f.waitForSync(); err != nil {
				return Packet{}, err
			}
		}
		if f.pos == len(f.buf) {
			return Packet{}, ErrNeedMoreData
		}

		if f.bStreamSync && f.buf[f.pos] == 0x00 && allZero(f.buf[f.pos:]) {
			if err := f.trimZeroRun(); err != nil {
				return Packet{}, err
			}
		}

		data := f.buf[f.pos:]
		pkt, n, err := f.processHdr(data)
		if err == nil {
			if _, cut := interruptedBySync(data, n); cut {
				f.setProcUnsynced(ocsd.ErrBadPacketSeq, "packet interrupted by sync marker")
				continue
			}
			pkt.Index = f.Index()
			f.pos += n
			f.zeroPad = 0
			f.trailZeros = 0
			if pkt.Type != PktAsync {
				f.trailZeros = n - 1 - len(bytes.TrimRight(data[1:n], "\x00"))
			}
			return pkt, nil
		}
		if err == ErrNeedMoreData {
			return Packet{}, err
		}

		libErr := err.(*common.Error)
		f.setProcUnsynced(libErr.Code, libErr.Message)
	}
}

// Flush reports everything still buffered at end of stream: pending
// discarded bytes and any incomplete trailing packet.
func (f *Framer) Flush() error {
	if remaining := f.Buffered(); remaining > 0 {
		if f.bStreamSync {
			f.setProcUnsynced(ocsd.ErrIncompleteEOT, "incomplete packet at end of trace")
		}
		f.discard(remaining)
	}
	if f.discarded > 0 {
		return f.takeFramingError()
	}
	return nil
}

func (f *Framer) setProcUnsynced(cause ocsd.Err, reason string) {
	f.bStreamSync = false
	f.cause = cause
	f.reason = reason
}

func (f *Framer) compact() {
	if f.pos < compactThreshold || f.pos < len(f.buf)/2 {
		return
	}
	n := copy(f.buf, f.buf[f.pos:])
	f.buf = f.buf[:n]
	f.base += ocsd.TrcIndex(f.pos)
	f.pos = 0
}

func (f *Framer) discard(n int) {
	if n <= 0 {
		return
	}
	f.foldZeroPad()
	if f.discarded == 0 {
		f.discardIdx = f.Index()
	}
	f.discarded += n
	f.pos += n
}

// foldZeroPad counts zeros trimmed from a run that turned out not to be a
// sync marker as discarded.
func (f *Framer) foldZeroPad() {
	if f.zeroPad == 0 {
		return
	}
	if f.discarded == 0 {
		f.discardIdx = f.zeroPadIdx
	}
	f.discarded += f.zeroPad
	f.zeroPad = 0
}

// trimZeroRun keeps only asyncMinZeros of a zero run that reaches the end of
// the buffer. Trimmed zeros are reported once they reach the resync limit.
func (f *Framer) trimZeroRun() error {
	excess := f.Buffered() - asyncMinZeros
	if excess <= 0 {
		return nil
	}
	if f.zeroPad == 0 {
		f.zeroPadIdx = f.Index()
	}
	f.zeroPad += excess
	f.pos += excess
	if f.zeroPad < f.cfg.resyncLimit() {
		return nil
	}

	const reason = "zero run without sync marker"
	if f.bStreamSync {
		f.setProcUnsynced(ocsd.ErrBadPacketSeq, reason)
	} else if f.discarded == 0 {
		f.reason = reason
	}
	f.foldZeroPad()
	return f.takeFramingError()
}

func (f *Framer) takeFramingError() *FramingError {
	err := &FramingError{
		Code:      f.cause,
		Index:     f.discardIdx,
		Discarded: f.discarded,
		Reason:    f.reason,
	}
	f.discarded = 0
	f.cause = ocsd.ErrResync
	f.reason = ""
	return err
}

// waitForSync discards bytes up to the next sync marker. On success the
// cursor rests on the marker, which Next then emits as a PktAsync.
func (f *Framer) waitForSync() error {
	off, found := findSync(f.buf[f.pos:])
	f.discard(off)

	if found {
		f.bStreamSync = true
		f.zeroPad = 0
		f.trailZeros = 0
		if f.discarded > 0 {
			return f.takeFramingError()
		}
		return nil
	}

	if err := f.trimZeroRun(); err != nil {
		return err
	}
	if f.discarded >= f.cfg.resyncLimit() {
		return f.takeFramingError()
	}
	return ErrNeedMoreData
}

// findSync returns the offset of the first complete sync marker in data.
// Without one it returns how many leading bytes cannot be part of a marker;
// a trailing run of zeros is kept as a possible marker start.
func findSync(data []byte) (int, bool) {
	zeros := 0
	for i, b := range data {
		if b == 0x00 {
			zeros++
			continue
		}
		if b == asyncEnd && zeros >= asyncMinZeros {
			return i - zeros, true
		}
		zeros = 0
	}
	return len(data) - zeros, false
}

// interruptedBySync reports whether the trailing zeros of the n-byte packet
// at the front of data begin a sync marker that the bytes after the packet
// are too short to form alone. The offset returned is where the marker starts.
func interruptedBySync(data []byte, n int) (int, bool) {
	start := n
	for start > 1 && data[start-1] == 0x00 {
		start--
	}
	if start == n {
		return 0, false
	}
	after := 0
	for n+after < len(data) && data[n+after] == 0x00 {
		after++
	}
	if after >= asyncMinZeros || n+after == len(data) || data[n+after] != asyncEnd {
		return 0, false
	}
	if n-start+after < asyncMinZeros {
		return 0, false
	}
	return start, true
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0x00 {
			return false
		}
	}
	return true
}

func badSequence(msg string) error {
	return common.NewErrorMsg(ocsd.ErrSevWarn, ocsd.ErrBadPacketSeq, msg)
}

func reservedHeader(b byte) error {
	return common.NewErrorMsg(ocsd.ErrSevWarn, ocsd.ErrInvalidPcktHdr, fmt.Sprintf("reserved header 0x%02X", b))
}

// processHdr decodes one packet at the front of data, returning the packet
// and the number of bytes it occupies.
func (f *Framer) processHdr(data []byte) (Packet, int, error) {
	var pkt Packet
	if len(data) == 0 {
		return pkt, 0, ErrNeedMoreData
	}
	b := data[0]

	switch {
	case (b & 0x03) != 0x00: // Stimulus packets
		return itmPktData(data)

	case b == 0x00:
		return itmPktAsync(data, max(asyncMinZeros-f.trailZeros, 1))

	case b == 0x70:
		pkt.Type = PktOverflow
		return pkt, 1, nil

	case (b & 0x0F) == 0x00:
		return itmPktLocalTS(data)

	case (b & 0x0B) == 0x08:
		return itmPktExtension(data)

	case (b & 0xDF) == 0x94:
		if (b & 0x20) == 0x00 {
			return itmPktGlobalTS1(data)
		}
		return itmPktGlobalTS2(data)
	}
	return pkt, 0, reservedHeader(b)
}

func itmPktData(data []byte) (Packet, int, error) {
	var pkt Packet
	hdr := data[0]

	payloadBytesReq := int(hdr & 0x3)
	if payloadBytesReq == 3 {
		payloadBytesReq = 4
	}
	if len(data) < 1+payloadBytesReq {
		return pkt, 0, ErrNeedMoreData
	}

	if (hdr & 0x4) != 0 {
		pkt.Type = PktDWT
	} else {
		pkt.Type = PktSWIT
	}
	pkt.SrcID = (hdr >> 3) & 0x1F

	var value uint32
	for i := 0; i < payloadBytesReq; i++ {
		value |= uint32(data[1+i]) << (8 * i)
	}
	pkt.Value = value
	pkt.ValSz = uint8(payloadBytesReq)
	return pkt, 1 + payloadBytesReq, nil
}

// itmPktAsync decodes a sync marker. minZeros is below asyncMinZeros when the
// previous packet ended in zeros that the marker started in.
func itmPktAsync(data []byte, minZeros int) (Packet, int, error) {
	zeros := 0
	for zeros < len(data) && data[zeros] == 0x00 {
		zeros++
	}
	if zeros == len(data) {
		return Packet{}, 0, ErrNeedMoreData
	}
	if data[zeros] != asyncEnd {
		return Packet{}, 0, badSequence("Async Packet: unexpected none zero value")
	}
	if zeros < minZeros {
		return Packet{}, 0, badSequence("Async Packet: too few zero bytes")
	}
	return Packet{Type: PktAsync}, zeros + 1, nil
}

// readContBytes reads up to limit continuation-encoded payload bytes after
// the header, 7 bits each, least significant first.
func readContBytes(data []byte, limit int) (value uint64, count int, err error) {
	for i := 1; i <= limit; i++ {
		if i >= len(data) {
			return 0, 0, ErrNeedMoreData
		}
		b := data[i]
		value |= uint64(b&0x7F) << (7 * (i - 1))
		if (b & 0x80) == 0x00 {
			return value, i, nil
		}
	}
	return 0, 0, errContTooLong
}

var errContTooLong = badSequence("continuation value too long")

func contError(err error, pktName string) error {
	if err == errContTooLong {
		return badSequence(pktName + " packet: Payload continuation value too long")
	}
	return err
}

func itmPktLocalTS(data []byte) (Packet, int, error) {
	const contLimit = 4
	hdr := data[0]
	pkt := Packet{Type: PktTSLocal}

	if (hdr & 0x80) == 0 {
		pkt.Value = uint32((hdr >> 4) & 0x7)
		return pkt, 1, nil
	}

	pkt.SrcID = (hdr >> 4) & 0x3
	value, count, err := readContBytes(data, contLimit)
	if err != nil {
		return Packet{}, 0, contError(err, "Local TS")
	}
	pkt.Value = uint32(value)
	pkt.ValSz = uint8(count)
	return pkt, 1 + count, nil
}

func itmPktGlobalTS1(data []byte) (Packet, int, error) {
	const contLimit = 4
	pkt := Packet{Type: PktTSGlobal1}

	value, count, err := readContBytes(data, contLimit)
	if err != nil {
		return Packet{}, 0, contError(err, "GTS1")
	}
	if count == contLimit {
		pkt.SrcID = (data[contLimit] >> 5) & 0x3
		value &= (1 << 26) - 1
	}
	pkt.Value = uint32(value)
	pkt.ValSz = uint8(count)
	return pkt, 1 + count, nil
}

func itmPktGlobalTS2(data []byte) (Packet, int, error) {
	const contLimit = 6
	pkt := Packet{Type: PktTSGlobal2}

	value, count, err := readContBytes(data, contLimit)
	if err != nil {
		return Packet{}, 0, contError(err, "GTS2")
	}
	pkt.SetExtValue(value)
	pkt.ValSz = uint8(count)
	return pkt, 1 + count, nil
}

func itmPktExtension(data []byte) (Packet, int, error) {
	const contLimit = 4
	hdr := data[0]
	pkt := Packet{Type: PktExtension}
	if (hdr & 0x4) != 0 {
		pkt.SrcID = extSrcHWFlag
	}

	value := uint32((hdr >> 4) & 0x7)
	count := 0
	if (hdr & 0x80) != 0 {
		cont, n, err := readContBytes(data, contLimit)
		if err != nil {
			return Packet{}, 0, contError(err, "Extension")
		}
		value |= uint32(cont) << 3
		count = n
	}
	pkt.Value = value
	pkt.ValSz = uint8(count)
	return pkt, 1 + count, nil
}

package itm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defmtitm/internal/ocsd"
)

// streamBuilder encodes packets and records the stream index each one
// should be reported at.
type streamBuilder struct {
	t    *testing.T
	data []byte
	pkts []Packet
}

func (b *streamBuilder) AddBytes(v ...byte) {
	b.data = append(b.data, v...)
}

func (b *streamBuilder) Add(pkt Packet) {
	b.t.Helper()
	pkt.Index = ocsd.TrcIndex(len(b.data))
	var err error
	b.data, err = AppendPacket(b.data, pkt)
	require.NoError(b.t, err)
	b.pkts = append(b.pkts, pkt)
}

func (b *streamBuilder) AddAsync() {
	b.Add(Packet{Type: PktAsync})
}

func (b *streamBuilder) AddSWIT(chanID uint8, val uint32, size uint8) {
	b.Add(Packet{Type: PktSWIT, SrcID: chanID, Value: val, ValSz: size})
}

// drain pulls packets until the framer needs more data, collecting framing
// errors separately.
func drain(t *testing.T, f *Framer) ([]Packet, []*FramingError) {
	t.Helper()
	var pkts []Packet
	var ferrs []*FramingError
	for {
		pkt, err := f.Next()
		if err == nil {
			pkts = append(pkts, pkt)
			continue
		}
		if errors.Is(err, ErrNeedMoreData) {
			return pkts, ferrs
		}
		var fe *FramingError
		require.True(t, errors.As(err, &fe), "unexpected error %v", err)
		ferrs = append(ferrs, fe)
	}
}

func allPacketKinds(b *streamBuilder) {
	b.AddAsync()
	b.Add(Packet{Type: PktOverflow})
	b.AddSWIT(3, 0xBB, 1)
	b.AddSWIT(31, 0x2345, 2)
	b.AddSWIT(1, 0x67890123, 4)
	b.Add(Packet{Type: PktDWT, SrcID: 0, Value: 0x15, ValSz: 1})
	b.Add(Packet{Type: PktDWT, SrcID: 2, Value: 0x1000, ValSz: 4})
	b.Add(Packet{Type: PktTSLocal, Value: 3})
	b.Add(Packet{Type: PktTSLocal, SrcID: TCDelay, Value: 0x3220, ValSz: 2})
	b.Add(Packet{Type: PktTSLocal, SrcID: TCPktTSDelay, Value: 0x0FFFFFFF, ValSz: 4})
	b.Add(Packet{Type: PktTSGlobal1, Value: 0x7A, ValSz: 1})
	b.Add(Packet{Type: PktTSGlobal1, SrcID: 2, Value: 0x3FFFFFF, ValSz: 4})
	b.Add(Packet{Type: PktTSGlobal2, Value: 0x89ABCDEF, ValExt: 0x12, ValSz: 6})
	b.Add(Packet{Type: PktExtension, Value: 2})
	b.Add(Packet{Type: PktExtension, SrcID: extSrcHWFlag, Value: 0x1234, ValSz: 2})
	b.AddAsync()
	b.AddSWIT(0, 0x01, 1)
}

func TestFramerRoundTrip(t *testing.T) {
	b := &streamBuilder{t: t}
	allPacketKinds(b)

	f := NewFramer(NewConfig())
	f.Write(b.data)
	got, ferrs := drain(t, f)

	assert.Empty(t, ferrs)
	if diff := cmp.Diff(b.pkts, got); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, f.Buffered())
	assert.Equal(t, ocsd.TrcIndex(len(b.data)), f.Index())
}

func TestFramerRoundTripByteByByte(t *testing.T) {
	b := &streamBuilder{t: t}
	allPacketKinds(b)

	f := NewFramer(NewConfig())
	var got []Packet
	for _, c := range b.data {
		f.Write([]byte{c})
		pkts, ferrs := drain(t, f)
		require.Empty(t, ferrs)
		got = append(got, pkts...)
	}

	if diff := cmp.Diff(b.pkts, got); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerNeedMoreDataKeepsCursor(t *testing.T) {
	f := NewFramer(NewConfig())
	f.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80})
	f.Write([]byte{0x0B, 0x11, 0x22}) // ch 1, 4 byte payload, 2 bytes present

	pkt, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, PktAsync, pkt.Type)

	_, err = f.Next()
	require.ErrorIs(t, err, ErrNeedMoreData)
	assert.Equal(t, ocsd.TrcIndex(6), f.Index())
	assert.Equal(t, 3, f.Buffered())

	// asking again changes nothing
	_, err = f.Next()
	require.ErrorIs(t, err, ErrNeedMoreData)
	assert.Equal(t, ocsd.TrcIndex(6), f.Index())

	f.Write([]byte{0x33, 0x44})
	pkt, err = f.Next()
	require.NoError(t, err)
	want := Packet{Type: PktSWIT, Index: 6, SrcID: 1, Value: 0x44332211, ValSz: 4}
	if diff := cmp.Diff(want, pkt); diff != "" {
		t.Errorf("packet mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, pkt.Payload())
}

func TestFramerLeadingGarbage(t *testing.T) {
	b := &streamBuilder{t: t}
	b.AddBytes(0xF1, 0x22, 0x33, 0x44, 0x55)
	b.AddAsync()
	b.AddSWIT(2, 0xAB, 1)

	f := NewFramer(NewConfig())
	f.Write(b.data)
	pkts, ferrs := drain(t, f)

	require.Len(t, ferrs, 1)
	assert.Equal(t, 5, ferrs[0].Discarded)
	assert.Equal(t, ocsd.TrcIndex(0), ferrs[0].Index)
	assert.Equal(t, ocsd.ErrResync, ferrs[0].Code)
	if diff := cmp.Diff(b.pkts, pkts); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerSyncAtStartIsSilent(t *testing.T) {
	b := &streamBuilder{t: t}
	b.AddAsync()
	b.AddSWIT(0, 0x55, 1)

	f := NewFramer(nil)
	f.Write(b.data)
	pkts, ferrs := drain(t, f)
	assert.Empty(t, ferrs)
	assert.Len(t, pkts, 2)
	assert.True(t, f.Synced())
}

func TestFramerReservedHeaderResync(t *testing.T) {
	b := &streamBuilder{t: t}
	b.AddAsync()
	b.AddSWIT(1, 0x10, 1)
	badIdx := ocsd.TrcIndex(len(b.data))
	b.AddBytes(0x14, 0x22, 0x33)
	b.AddAsync()
	b.AddSWIT(1, 0x20, 1)

	f := NewFramer(NewConfig())
	f.Write(b.data)
	pkts, ferrs := drain(t, f)

	require.Len(t, ferrs, 1)
	assert.Equal(t, ocsd.ErrInvalidPcktHdr, ferrs[0].Code)
	assert.Equal(t, 3, ferrs[0].Discarded)
	assert.Equal(t, badIdx, ferrs[0].Index)
	assert.Contains(t, ferrs[0].Error(), "reserved header 0x14")
	if diff := cmp.Diff(b.pkts, pkts); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerContinuationTooLong(t *testing.T) {
	tests := []struct {
		name string
		bad  []byte
	}{
		{"LocalTS", []byte{0xC0, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"GTS1", []byte{0x94, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"GTS2", []byte{0xB4, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"Extension", []byte{0x88, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &streamBuilder{t: t}
			b.AddAsync()
			b.AddBytes(tc.bad...)
			b.AddAsync()

			f := NewFramer(NewConfig())
			f.Write(b.data)
			pkts, ferrs := drain(t, f)

			require.Len(t, ferrs, 1)
			assert.Equal(t, ocsd.ErrBadPacketSeq, ferrs[0].Code)
			assert.Equal(t, len(tc.bad), ferrs[0].Discarded)
			assert.Contains(t, ferrs[0].Reason, "too long")
			require.Len(t, pkts, 2)
			assert.Equal(t, PktAsync, pkts[1].Type)
		})
	}
}

func TestFramerShortAsync(t *testing.T) {
	b := &streamBuilder{t: t}
	b.AddAsync()
	b.AddBytes(0x00, 0x00, 0x80)
	b.AddAsync()

	f := NewFramer(NewConfig())
	f.Write(b.data)
	pkts, ferrs := drain(t, f)

	require.Len(t, ferrs, 1)
	assert.Equal(t, ocsd.ErrBadPacketSeq, ferrs[0].Code)
	assert.Equal(t, 3, ferrs[0].Discarded)
	assert.Len(t, pkts, 2)
}

func TestFramerFlush(t *testing.T) {
	t.Run("IncompleteEOT", func(t *testing.T) {
		f := NewFramer(NewConfig())
		b := &streamBuilder{t: t}
		b.AddAsync()
		b.AddBytes(0x94)
		f.Write(b.data)

		pkts, ferrs := drain(t, f)
		assert.Len(t, pkts, 1)
		assert.Empty(t, ferrs)

		err := f.Flush()
		var fe *FramingError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, ocsd.ErrIncompleteEOT, fe.Code)
		assert.Equal(t, 1, fe.Discarded)
		assert.Equal(t, ocsd.TrcIndex(6), fe.Index)

		assert.NoError(t, f.Flush())
	})

	t.Run("PendingGarbage", func(t *testing.T) {
		f := NewFramer(NewConfig())
		f.Write([]byte{0xF1, 0xF2, 0x00})

		pkts, ferrs := drain(t, f)
		assert.Empty(t, pkts)
		assert.Empty(t, ferrs)

		err := f.Flush()
		var fe *FramingError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, ocsd.ErrResync, fe.Code)
		assert.Equal(t, 3, fe.Discarded)
	})

	t.Run("Clean", func(t *testing.T) {
		f := NewFramer(NewConfig())
		b := &streamBuilder{t: t}
		b.AddAsync()
		f.Write(b.data)
		drain(t, f)
		assert.NoError(t, f.Flush())
	})
}

func TestFramerReportLimit(t *testing.T) {
	cfg := NewConfig()
	cfg.ResyncReportLimit = 8
	f := NewFramer(cfg)

	garbage := make([]byte, 20)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	f.Write(garbage)

	pkts, ferrs := drain(t, f)
	assert.Empty(t, pkts)
	require.Len(t, ferrs, 1)
	assert.Equal(t, 20, ferrs[0].Discarded)

	f.Write([]byte{0xFF, 0xFF, 0xFF})
	_, ferrs = drain(t, f)
	assert.Empty(t, ferrs, "below the limit the loss stays pending")

	b := &streamBuilder{t: t}
	b.AddAsync()
	f.Write(b.data)
	pkts, ferrs = drain(t, f)
	require.Len(t, ferrs, 1)
	assert.Equal(t, 3, ferrs[0].Discarded)
	assert.Equal(t, ocsd.TrcIndex(20), ferrs[0].Index)
	require.Len(t, pkts, 1)
	assert.Equal(t, ocsd.TrcIndex(23), pkts[0].Index)
}

func TestFramerAssumeSynced(t *testing.T) {
	cfg := NewConfig()
	cfg.AssumeSynced = true
	f := NewFramer(cfg)

	b := &streamBuilder{t: t}
	b.AddSWIT(4, 0x1234, 2)
	b.Add(Packet{Type: PktOverflow})
	f.Write(b.data)

	pkts, ferrs := drain(t, f)
	assert.Empty(t, ferrs)
	if diff := cmp.Diff(b.pkts, pkts); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerLongStreamCompacts(t *testing.T) {
	b := &streamBuilder{t: t}
	b.AddAsync()
	for i := 0; i < 3000; i++ {
		b.AddSWIT(uint8(i%32), uint32(i), 4)
	}

	f := NewFramer(NewConfig())
	var got []Packet
	for off := 0; off < len(b.data); off += 97 {
		end := off + 97
		if end > len(b.data) {
			end = len(b.data)
		}
		f.Write(b.data[off:end])
		pkts, ferrs := drain(t, f)
		require.Empty(t, ferrs)
		got = append(got, pkts...)
	}

	require.Len(t, got, len(b.pkts))
	if diff := cmp.Diff(b.pkts, got); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
	assert.Less(t, len(f.buf), 2*compactThreshold+97)
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(NewConfig())
	f.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x0B, 0x01})
	drain(t, f)
	require.True(t, f.Synced())

	f.Reset()
	assert.False(t, f.Synced())
	assert.Equal(t, 0, f.Buffered())
	assert.Equal(t, ocsd.TrcIndex(8), f.Index())
}

func TestAppendPacketRejectsInvalid(t *testing.T) {
	bad := []Packet{
		{Type: PktSWIT, ValSz: 3},
		{Type: PktTSLocal, Value: 0},
		{Type: PktTSLocal, Value: 7},
		{Type: PktTSLocal, ValSz: 5},
		{Type: PktTSGlobal1, ValSz: 0},
		{Type: PktTSGlobal2, ValSz: 7},
		{Type: PktExtension, ValSz: 5},
		{Type: PktNotSync},
	}
	for _, pkt := range bad {
		_, err := AppendPacket(nil, pkt)
		assert.Error(t, err, "%+v", pkt)
	}
}

func TestAppendStimulus(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	stream := append([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80}, AppendStimulus(nil, 9, data)...)

	f := NewFramer(NewConfig())
	f.Write(stream)
	pkts, _ := drain(t, f)

	var got []byte
	var sizes []uint8
	for _, p := range pkts[1:] {
		require.Equal(t, PktSWIT, p.Type)
		require.Equal(t, uint8(9), p.Channel())
		got = append(got, p.Payload()...)
		sizes = append(sizes, p.ValSz)
	}
	assert.Equal(t, data, got)
	assert.Equal(t, []uint8{4, 2, 1}, sizes)
}

func TestConfigPrescale(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, uint32(1), cfg.TSPrescaleValue())

	for _, div := range []uint32{4, 16, 64, 1} {
		require.NoError(t, cfg.SetTSPrescale(div))
		assert.Equal(t, div, cfg.TSPrescaleValue())
	}
	assert.Error(t, cfg.SetTSPrescale(3))
}

func TestFramerSyncInterruptsPacket(t *testing.T) {
	// a 4 byte stimulus packet cut short after two payload bytes by a new
	// sync marker
	b := &streamBuilder{t: t}
	b.AddAsync()
	b.AddBytes(0x03, 0xAA, 0xBB)
	b.AddAsync()
	b.AddSWIT(0, 0x0102, 2)

	t.Run("Buffered", func(t *testing.T) {
		f := NewFramer(NewConfig())
		f.Write(b.data)
		pkts, ferrs := drain(t, f)

		require.Len(t, ferrs, 1)
		want := &FramingError{
			Code:      ocsd.ErrBadPacketSeq,
			Index:     6,
			Discarded: 3,
			Reason:    "packet interrupted by sync marker",
		}
		if diff := cmp.Diff(want, ferrs[0]); diff != "" {
			t.Errorf("framing error mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(b.pkts, pkts); diff != "" {
			t.Errorf("packets mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ByteByByte", func(t *testing.T) {
		// the packet is complete before the marker is visible, so it is
		// emitted and the marker is recognised in its trailing zeros
		f := NewFramer(NewConfig())
		var got []Packet
		for _, c := range b.data {
			f.Write([]byte{c})
			pkts, ferrs := drain(t, f)
			require.Empty(t, ferrs)
			got = append(got, pkts...)
		}

		want := []Packet{
			{Type: PktAsync, Index: 0},
			{Type: PktSWIT, Index: 6, SrcID: 0, Value: 0xBBAA, ValSz: 4},
			{Type: PktAsync, Index: 11},
			{Type: PktSWIT, Index: 15, SrcID: 0, Value: 0x0102, ValSz: 2},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("packets mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestFramerZeroPayloadBeforeSync(t *testing.T) {
	b := &streamBuilder{t: t}
	b.AddAsync()
	b.AddSWIT(1, 0x11, 4)
	b.AddAsync()
	b.AddSWIT(2, 0, 4)
	b.AddAsync()

	f := NewFramer(NewConfig())
	f.Write(b.data)
	pkts, ferrs := drain(t, f)

	assert.Empty(t, ferrs)
	if diff := cmp.Diff(b.pkts, pkts); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerUnterminatedZeroRun(t *testing.T) {
	const (
		total = 10 << 20
		chunk = 64 << 10
	)
	zeros := make([]byte, chunk)

	for _, tc := range []struct {
		name         string
		assumeSynced bool
		code         ocsd.Err
	}{
		{name: "Unsynced", code: ocsd.ErrResync},
		{name: "AssumeSynced", assumeSynced: true, code: ocsd.ErrBadPacketSeq},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.AssumeSynced = tc.assumeSynced
			f := NewFramer(cfg)

			var ferrs []*FramingError
			for written := 0; written < total; written += chunk {
				f.Write(zeros)
				pkts, fe := drain(t, f)
				require.Empty(t, pkts)
				ferrs = append(ferrs, fe...)
				require.LessOrEqual(t, f.Buffered(), asyncMinZeros)
				require.LessOrEqual(t, len(f.buf), chunk+asyncMinZeros)
			}

			require.NotEmpty(t, ferrs)
			assert.Equal(t, tc.code, ferrs[0].Code)
			assert.Equal(t, ocsd.TrcIndex(0), ferrs[0].Index)
			assert.Equal(t, "zero run without sync marker", ferrs[0].Reason)
			discarded := 0
			for _, fe := range ferrs {
				discarded += fe.Discarded
			}
			assert.Equal(t, total-asyncMinZeros, discarded)

			// the zeros kept are still a valid marker start
			f.Write([]byte{asyncEnd})
			pkts, fe := drain(t, f)
			assert.Empty(t, fe)
			want := []Packet{{Type: PktAsync, Index: total - asyncMinZeros}}
			if diff := cmp.Diff(want, pkts); diff != "" {
				t.Errorf("packets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFramerShortZeroPaddingIsSilent(t *testing.T) {
	f := NewFramer(NewConfig())
	f.Write(make([]byte, 100))
	pkts, ferrs := drain(t, f)
	assert.Empty(t, pkts)
	assert.Empty(t, ferrs)
	assert.Equal(t, asyncMinZeros, f.Buffered())

	f.Write([]byte{asyncEnd, 0x01, 0x7F})
	pkts, ferrs = drain(t, f)
	assert.Empty(t, ferrs)
	require.Len(t, pkts, 2)
	assert.Equal(t, PktAsync, pkts[0].Type)
	assert.Equal(t, PktSWIT, pkts[1].Type)
}

func TestFramerTrimmedZerosCountedWhenNoMarker(t *testing.T) {
	f := NewFramer(NewConfig())
	f.Write(make([]byte, 100))
	drain(t, f)

	f.Write([]byte{0x01})
	_, ferrs := drain(t, f)
	assert.Empty(t, ferrs, "below the limit the loss stays pending")

	err := f.Flush()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ocsd.TrcIndex(0), fe.Index)
	assert.Equal(t, 101, fe.Discarded)
}

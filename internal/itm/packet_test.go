package itm

import (
	"strings"
	"testing"
)

func TestPacketStringVariants(t *testing.T) {
	pkt := &Packet{}
	if pkt.String() != "NOTSYNC:ITM not synchronised" {
		t.Errorf("Unexpected string: %s", pkt.String())
	}

	tests := []struct {
		pkt  Packet
		want string
	}{
		{Packet{Type: PktAsync}, "ASYNC:Alignment synchronisation packet"},
		{Packet{Type: PktOverflow}, "OVERFLOW:Overflow packet"},
		{Packet{Type: PktSWIT, SrcID: 3, Value: 0xAA, ValSz: 1}, "SWIT:Software stimulus packet; 8 bit; Chan 0x03; Data 0x000000AA"},
		{Packet{Type: PktDWT, SrcID: 0, Value: 0x15, ValSz: 1}, "DWT:Hardware stimulus packet; Event : 8 bit CPI; SLP; FLD;"},
		{Packet{Type: PktDWT, SrcID: 1, Value: 0x1010, ValSz: 2}, "DWT:Hardware stimulus packet; Exception : 16 bit; Exception Num 016 Entered"},
		{Packet{Type: PktDWT, SrcID: 2, Value: 0x08000100, ValSz: 4}, "DWT:Hardware stimulus packet; PC Sample : 32 bit; PC = 0x08000100"},
		{Packet{Type: PktTSLocal, SrcID: 1, Value: 0x10, ValSz: 2}, "TS_L:Local timestamp packet; TC TS Delay; TS = 0x0000010"},
		{Packet{Type: PktTSGlobal1, Value: 0x100, ValSz: 2}, "TS_G1:Global timestamp packet 1; TS 25:0  0x0000100"},
		{Packet{Type: PktTSGlobal2, Value: 0x1000, ValExt: 1, ValSz: 5}, "TS_G2:Global timestamp packet 2; TS 63:26 0x0100001000"},
		{Packet{Type: PktExtension, Value: 2}, "EXTENSION:Extension packet; Src SW; Val 0x00000002"},
		{Packet{Type: PktExtension, SrcID: 0x80, Value: 2}, "EXTENSION:Extension packet; Src HW; Val 0x00000002"},
		{Packet{Type: PktType(99)}, "UNKNOWN:Unknown Packet Type"},
	}
	for _, tc := range tests {
		if got := tc.pkt.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}

	// DWT detailed coverage
	for _, id := range []uint8{8, 9, 16, 18, 99} {
		p := Packet{Type: PktDWT, SrcID: id, Value: 0x44, ValSz: 1}
		if !strings.HasPrefix(p.String(), "DWT:") {
			t.Fatalf("unexpected DWT string for src id %d: %s", id, p.String())
		}
	}
}

func TestPacketPayload(t *testing.T) {
	p := Packet{Type: PktSWIT, Value: 0x04030201, ValSz: 2}
	if got := p.Payload(); len(got) != 2 || got[0] != 0x01 || got[1] != 0x02 {
		t.Errorf("unexpected payload %v", got)
	}

	p.ValSz = 4
	if got := p.Payload(); len(got) != 4 || got[3] != 0x04 {
		t.Errorf("unexpected payload %v", got)
	}
}
